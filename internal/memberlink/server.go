package memberlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scalingmax/memberlink/internal/logging"
	"github.com/scalingmax/memberlink/internal/memberlink/access"
	"github.com/scalingmax/memberlink/internal/memberlink/discord"
	"github.com/scalingmax/memberlink/internal/memberlink/email"
	"github.com/scalingmax/memberlink/internal/memberlink/entitlement"
	"github.com/scalingmax/memberlink/internal/memberlink/linker"
	"github.com/scalingmax/memberlink/internal/memberlink/outbound"
	mlstripe "github.com/scalingmax/memberlink/internal/memberlink/stripe"
	stripe "github.com/stripe/stripe-go/v82"
)

const shutdownTimeout = 30 * time.Second

// Run starts the HTTP server and blocks until ctx is cancelled or a
// termination signal arrives.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "memberlink",
	})

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "memberlink",
	})

	log.Info().Str("version", version).Str("base_url", cfg.BaseURL).Msg("Starting memberlink")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver := outbound.NewResolver(cfg.DNSCacheTTL)
	go resolver.Run(ctx)
	httpClient := resolver.Client(cfg.HTTPTimeout)

	var (
		store          entitlement.Store
		createCheckout func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	)
	if cfg.StripeAPIKey != "" {
		stripeCfg := entitlement.StripeStoreConfig{APIKey: cfg.StripeAPIKey, HTTPClient: httpClient}
		store = entitlement.NewStripeStore(stripeCfg)
		createCheckout = entitlement.NewStripeAPI(stripeCfg).CheckoutSessions.New
	} else {
		store = entitlement.NewMemoryStore()
		log.Warn().Msg("STRIPE_API_KEY not set, using in-memory subscriber store and disabling checkout")
	}

	issuer := access.NewIssuer(store)
	chat := discord.NewClient(discord.Config{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		BotToken:     cfg.DiscordBotToken,
		GuildID:      cfg.DiscordGuildID,
		RoleID:       cfg.DiscordRoleID,
		RedirectURL:  cfg.CallbackURL(),
		HTTPClient:   httpClient,
	})
	states, err := linker.NewStateCodec(cfg.StateSecret)
	if err != nil {
		return fmt.Errorf("init state codec: %w", err)
	}
	links := linker.New(issuer, store, chat, states)

	var sender email.Sender
	if cfg.BrevoAPIKey != "" {
		sender = email.NewBrevoSender(cfg.BrevoAPIKey, httpClient)
		log.Info().Msg("Email sender configured (Brevo)")
	} else {
		sender = email.NewLogSender(logEmail)
		log.Warn().Msg("Email sender: log-only, /subscribe will be rejected by Brevo (set BREVO_API_KEY to enable)")
	}
	contacts := email.NewBrevoContacts(cfg.BrevoAPIKey, cfg.BrevoListID, httpClient)

	events, err := mlstripe.NewDeduper(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open webhook event store: %w", err)
	}
	defer events.Close()

	syncer := mlstripe.NewSyncer(mlstripe.SyncerConfig{
		BaseURL:        cfg.BaseURL,
		ResubscribeURL: cfg.ResubscribeURL,
		From:           cfg.EmailFrom,
		FromName:       cfg.EmailFromName,
	}, issuer, store, chat, sender)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:    cfg,
		Links:     linker.NewHandlers(links, cfg.SiteURL),
		Webhook:   mlstripe.NewWebhookHandler(cfg.StripeWebhookSecret, syncer, events),
		Events:    events,
		Checkout:  NewCheckoutHandlers(cfg.StripePriceID, cfg.SiteURL, createCheckout),
		Subscribe: NewSubscribeHandlers(contacts),
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           RequestID(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("memberlink listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case err := <-serveErr:
		runErr = fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("memberlink stopped")
	return runErr
}

var accessTokenPattern = regexp.MustCompile(access.TokenPrefix + `[A-Za-z0-9_-]+`)

// redactTokens replaces access tokens in s with their redacted form.
func redactTokens(s string) string {
	return accessTokenPattern.ReplaceAllStringFunc(s, access.Redact)
}

func logEmail(to, subject, body string) {
	const maxBody = 4096
	bodyForLog := redactTokens(body)
	if len(bodyForLog) > maxBody {
		bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
	}
	log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", bodyForLog).
		Msg("Email (log-only, no email provider configured)")
}

package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/scalingmax/memberlink/internal/logging"
	"github.com/scalingmax/memberlink/internal/memberlink/access"
	"github.com/scalingmax/memberlink/internal/memberlink/email"
	"github.com/scalingmax/memberlink/internal/memberlink/entitlement"
	"github.com/scalingmax/memberlink/internal/memberlink/mlmetrics"
)

// RoleRevoker removes the member role from a linked chat account.
type RoleRevoker interface {
	RemoveRole(ctx context.Context, userID string) error
}

// SyncerConfig holds the addresses used in outgoing emails.
type SyncerConfig struct {
	BaseURL        string
	ResubscribeURL string
	From           string
	FromName       string
}

// Syncer applies payment lifecycle events to subscriber state and chat access.
type Syncer struct {
	cfg    SyncerConfig
	issuer *access.Issuer
	store  entitlement.Store
	roles  RoleRevoker
	sender email.Sender
}

// NewSyncer creates a Syncer.
func NewSyncer(cfg SyncerConfig, issuer *access.Issuer, store entitlement.Store, roles RoleRevoker, sender email.Sender) *Syncer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Syncer{
		cfg:    cfg,
		issuer: issuer,
		store:  store,
		roles:  roles,
		sender: sender,
	}
}

// AccessURL is the link mailed to a new subscriber.
func (s *Syncer) AccessURL(token string) string {
	return s.cfg.BaseURL + "/chat-access?token=" + url.QueryEscape(token)
}

// HandleCheckout issues an access token for a completed subscription checkout
// and mails the access link.
func (s *Syncer) HandleCheckout(ctx context.Context, session CheckoutSession) error {
	log := logging.FromContext(ctx).With().Str("session_id", session.ID).Logger()

	if session.Mode != "subscription" {
		log.Info().Str("mode", session.Mode).Msg("Checkout ignored (not a subscription)")
		return nil
	}
	to := CheckoutEmail(session)
	if to == "" {
		log.Warn().Msg("Checkout ignored (no customer email)")
		return nil
	}
	customerID := strings.TrimSpace(session.Customer)
	if !IsSafeStripeID(customerID) {
		log.Error().Str("customer_id", customerID).Msg("Checkout ignored (invalid customer id)")
		return nil
	}
	log = log.With().Str("customer_id", customerID).Logger()

	token, err := s.issuer.Issue(ctx, customerID)
	if err != nil {
		return fmt.Errorf("issue access token: %w", err)
	}

	html, text, err := email.RenderWelcomeEmail(email.WelcomeData{AccessURL: s.AccessURL(token)})
	if err != nil {
		return err
	}
	err = s.sender.Send(ctx, email.Message{
		FromName: s.cfg.FromName,
		From:     s.cfg.From,
		To:       to,
		Subject:  email.WelcomeSubject,
		HTML:     html,
		Text:     text,
	})
	mlmetrics.EmailSendsTotal.WithLabelValues("welcome", mlmetrics.Result(err)).Inc()
	if err != nil {
		// Without the email the token is unreachable, so let Stripe redeliver.
		return fmt.Errorf("send welcome email: %w", err)
	}

	log.Info().Str("token", access.Redact(token)).Msg("New member activated")
	return nil
}

// HandlePaymentFailed revokes access after a failed renewal.
func (s *Syncer) HandlePaymentFailed(ctx context.Context, inv Invoice) error {
	return s.revoke(ctx, inv.Customer, entitlement.StatusPaymentFailed)
}

// HandleSubscriptionDeleted revokes access after a cancellation.
func (s *Syncer) HandleSubscriptionDeleted(ctx context.Context, sub Subscription) error {
	return s.revoke(ctx, sub.Customer, entitlement.StatusCancelled)
}

// HandleSubscriptionUpdated only logs: access is re-granted through a new
// checkout, and lapses arrive as payment_failed or deleted events.
func (s *Syncer) HandleSubscriptionUpdated(ctx context.Context, sub Subscription) error {
	logging.FromContext(ctx).Info().
		Str("customer_id", sub.Customer).
		Str("subscription_id", sub.ID).
		Str("status", sub.Status).
		Msg("Subscription updated (no action)")
	return nil
}

func (s *Syncer) revoke(ctx context.Context, customerID string, status entitlement.Status) error {
	customerID = strings.TrimSpace(customerID)
	log := logging.FromContext(ctx).With().
		Str("customer_id", customerID).
		Str("status", string(status)).
		Logger()

	if !IsSafeStripeID(customerID) {
		log.Error().Msg("Revocation ignored (invalid customer id)")
		return nil
	}

	sub, err := s.store.Get(ctx, customerID)
	if err != nil {
		if errors.Is(err, entitlement.ErrNotFound) {
			log.Warn().Msg("Revocation ignored (customer not found)")
			return nil
		}
		return fmt.Errorf("load subscriber: %w", err)
	}

	// Each step runs even when an earlier one failed.
	if userID := sub.ChatUserID(); userID != "" {
		err := s.roles.RemoveRole(ctx, userID)
		mlmetrics.RoleSyncTotal.WithLabelValues("revoke", mlmetrics.Result(err)).Inc()
		if err != nil {
			log.Error().Err(err).Str("discord_user_id", userID).Msg("Failed to remove member role")
		}
	}

	var errs []error
	if _, err := s.store.MergeMetadata(ctx, customerID, map[string]string{
		entitlement.MetaStatus: string(status),
	}); err != nil {
		errs = append(errs, fmt.Errorf("write status: %w", err))
	}

	if to := strings.TrimSpace(sub.Email); to != "" {
		if err := s.sendCancellation(ctx, to); err != nil {
			errs = append(errs, err)
		}
	} else {
		log.Warn().Msg("No email on customer, cancellation email skipped")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info().Msg("Member access revoked")
	return nil
}

func (s *Syncer) sendCancellation(ctx context.Context, to string) error {
	html, text, err := email.RenderCancellationEmail(email.CancellationData{ResubscribeURL: s.cfg.ResubscribeURL})
	if err != nil {
		return err
	}
	err = s.sender.Send(ctx, email.Message{
		FromName: s.cfg.FromName,
		From:     s.cfg.From,
		To:       to,
		Subject:  email.CancellationSubject,
		HTML:     html,
		Text:     text,
	})
	mlmetrics.EmailSendsTotal.WithLabelValues("cancellation", mlmetrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("send cancellation email: %w", err)
	}
	return nil
}

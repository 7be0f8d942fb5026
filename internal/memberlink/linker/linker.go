// Package linker binds a paying subscriber to a Discord identity: it turns
// an emailed access token into an OAuth authorization round trip and, on
// return, grants the member role in the guild.
package linker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	internalerrors "github.com/scalingmax/memberlink/internal/errors"
	"github.com/scalingmax/memberlink/internal/logging"
	"github.com/scalingmax/memberlink/internal/memberlink/access"
	"github.com/scalingmax/memberlink/internal/memberlink/discord"
	"github.com/scalingmax/memberlink/internal/memberlink/entitlement"
	"github.com/scalingmax/memberlink/internal/memberlink/mlmetrics"
	"golang.org/x/oauth2"
)

var (
	errMissingToken   = errors.New("access token missing")
	errMissingParams  = errors.New("code or state missing")
	errTokenRotated   = errors.New("access token was replaced after authorization started")
	errMissingUserID  = errors.New("discord user has no id")
	errAuthorizeError = errors.New("authorization refused")
)

// Chat is the subset of the Discord client the linker drives.
type Chat interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	CurrentUser(ctx context.Context, tok *oauth2.Token) (*discord.User, error)
	AddMember(ctx context.Context, userID, accessToken string) (bool, error)
	AddRole(ctx context.Context, userID string) error
	GuildURL() string
}

// StartResult tells the caller where to send the user next.
type StartResult struct {
	// Rejoin is set when the subscriber is already linked; RedirectURL then
	// opens the guild directly.
	Rejoin       bool
	RedirectURL  string
	AuthorizeURL string
	Subscriber   *entitlement.Subscriber
}

// CallbackParams are the query parameters of the OAuth redirect.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// LinkResult describes a completed link.
type LinkResult struct {
	CustomerID string
	UserID     string
	Username   string
	Added      bool
	GuildURL   string
}

// Linker runs the account link flow.
type Linker struct {
	issuer *access.Issuer
	store  entitlement.Store
	chat   Chat
	states *StateCodec
	now    func() time.Time
}

// New creates a Linker.
func New(issuer *access.Issuer, store entitlement.Store, chat Chat, states *StateCodec) *Linker {
	return &Linker{
		issuer: issuer,
		store:  store,
		chat:   chat,
		states: states,
		now:    time.Now,
	}
}

// Start verifies token and decides between the rejoin shortcut and a fresh
// authorization.
func (l *Linker) Start(ctx context.Context, token string) (*StartResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, internalerrors.Validation(internalerrors.StateInvalidToken, "verify_token", errMissingToken)
	}

	sub, err := l.issuer.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, access.ErrInvalidOrExpired) {
			return nil, internalerrors.Forbidden(internalerrors.StateInvalidToken, "verify_token", err)
		}
		return nil, internalerrors.Upstream("verify_token", err)
	}

	log := logging.FromContext(ctx).With().
		Str("customer_id", sub.CustomerID).
		Str("token", access.Redact(token)).
		Logger()

	if userID := sub.ChatUserID(); userID != "" {
		// The role may have been revoked by an earlier lapse, so re-assert it.
		// Only a member who left the guild goes through authorization again.
		err := l.chat.AddRole(ctx, userID)
		mlmetrics.RoleSyncTotal.WithLabelValues("grant", mlmetrics.Result(err)).Inc()
		switch {
		case err == nil:
			log.Info().Str("discord_user_id", userID).Msg("Subscriber already linked, redirecting to guild")
			return &StartResult{Rejoin: true, RedirectURL: l.chat.GuildURL(), Subscriber: sub}, nil
		case discord.IsUnknownMember(err):
			log.Info().Str("discord_user_id", userID).Msg("Linked member left the guild, restarting authorization")
		default:
			log.Warn().Err(err).Str("discord_user_id", userID).Msg("Role re-grant failed, redirecting to guild anyway")
			return &StartResult{Rejoin: true, RedirectURL: l.chat.GuildURL(), Subscriber: sub}, nil
		}
	}

	state, err := l.states.Sign(State{Token: token, CustomerID: sub.CustomerID})
	if err != nil {
		return nil, internalerrors.Upstream("sign_state", err)
	}

	log.Info().Msg("Starting Discord authorization")
	return &StartResult{AuthorizeURL: l.chat.AuthCodeURL(state), Subscriber: sub}, nil
}

// Complete finishes the authorization round trip and grants membership.
func (l *Linker) Complete(ctx context.Context, p CallbackParams) (*LinkResult, error) {
	res, err := l.complete(ctx, p)
	outcome := "linked"
	if err != nil {
		outcome = string(internalerrors.StateOf(err))
	}
	mlmetrics.LinkOutcomes.WithLabelValues(outcome).Inc()
	return res, err
}

func (l *Linker) complete(ctx context.Context, p CallbackParams) (*LinkResult, error) {
	if oauthErr := strings.TrimSpace(p.Error); oauthErr != "" {
		return nil, internalerrors.Auth(internalerrors.StateOAuthDenied, "authorize", fmt.Errorf("%w: %s", errAuthorizeError, oauthErr))
	}
	if strings.TrimSpace(p.Code) == "" || strings.TrimSpace(p.State) == "" {
		return nil, internalerrors.Validation(internalerrors.StateBadRequest, "callback", errMissingParams)
	}

	st, err := l.states.Decode(p.State)
	if err != nil {
		return nil, internalerrors.Auth(internalerrors.StateInvalidState, "decode_state", err)
	}

	sub, err := l.issuer.VerifyCustomer(ctx, st.CustomerID)
	if err != nil {
		if errors.Is(err, access.ErrInvalidOrExpired) {
			return nil, internalerrors.Forbidden(internalerrors.StateSubscriptionInvalid, "verify_subscription", err)
		}
		return nil, internalerrors.Upstream("verify_subscription", err)
	}
	if sub.AccessToken() != st.Token {
		return nil, internalerrors.Forbidden(internalerrors.StateSubscriptionInvalid, "verify_subscription", errTokenRotated)
	}

	log := logging.FromContext(ctx).With().Str("customer_id", sub.CustomerID).Logger()

	tok, err := l.chat.Exchange(ctx, p.Code)
	if err != nil {
		log.Warn().Err(err).Bool("rejected", discord.IsOAuthRejection(err)).Msg("Discord code exchange failed")
		return nil, internalerrors.Auth(internalerrors.StateOAuthError, "exchange_code", err)
	}

	user, err := l.chat.CurrentUser(ctx, tok)
	if err != nil {
		return nil, internalerrors.Upstream("get_current_user", err)
	}
	if strings.TrimSpace(user.ID) == "" {
		return nil, internalerrors.Upstream("get_current_user", errMissingUserID)
	}
	log = log.With().Str("discord_user_id", user.ID).Logger()

	added, grantErr := l.grant(ctx, user.ID, tok.AccessToken)
	mlmetrics.RoleSyncTotal.WithLabelValues("grant", mlmetrics.Result(grantErr)).Inc()

	// The identity is recorded even when the grant failed so a later
	// cancellation can still revoke whatever Discord did apply.
	_, recordErr := l.store.MergeMetadata(ctx, sub.CustomerID, map[string]string{
		entitlement.MetaChatUserID:   user.ID,
		entitlement.MetaChatUsername: user.Username,
		entitlement.MetaLinkedAt:     l.now().UTC().Format(time.RFC3339),
	})

	if grantErr != nil {
		if recordErr != nil {
			log.Error().Err(recordErr).Msg("Failed to record Discord identity")
		}
		return nil, internalerrors.Upstream("grant_membership", grantErr)
	}
	if recordErr != nil {
		return nil, internalerrors.Upstream("record_identity", recordErr)
	}

	log.Info().Bool("added", added).Str("discord_username", user.Username).Msg("Discord account linked")
	return &LinkResult{
		CustomerID: sub.CustomerID,
		UserID:     user.ID,
		Username:   user.DisplayName(),
		Added:      added,
		GuildURL:   l.chat.GuildURL(),
	}, nil
}

func (l *Linker) grant(ctx context.Context, userID, accessToken string) (bool, error) {
	added, err := l.chat.AddMember(ctx, userID, accessToken)
	if err != nil {
		return false, err
	}
	if added {
		return true, nil
	}
	// Already a member: the roles field of AddMember was ignored.
	return false, l.chat.AddRole(ctx, userID)
}

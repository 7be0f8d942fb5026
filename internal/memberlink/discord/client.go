// Package discord talks to the Discord OAuth2 and bot REST APIs for a single guild.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAPIBaseURL = "https://discord.com/api/v10"
	DefaultAuthURL    = "https://discord.com/api/oauth2/authorize"
	DefaultTokenURL   = "https://discord.com/api/oauth2/token"

	channelsURL = "https://discord.com/channels/"
	userAgent   = "DiscordBot (https://github.com/scalingmax/memberlink, 1.0)"

	// Discord JSON error code for a user who is not in the guild.
	codeUnknownMember = 10007
)

// Scopes requested during the OAuth handshake.
var Scopes = []string{"identify", "guilds.join"}

// Config holds the application credentials and guild settings.
type Config struct {
	ClientID     string
	ClientSecret string
	BotToken     string
	GuildID      string
	RoleID       string
	RedirectURL  string

	APIBaseURL string // defaults to DefaultAPIBaseURL
	AuthURL    string // defaults to DefaultAuthURL
	TokenURL   string // defaults to DefaultTokenURL
	HTTPClient *http.Client
}

// User is the subset of the Discord user object the service needs.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

// DisplayName prefers the global display name over the unique username.
func (u *User) DisplayName() string {
	if strings.TrimSpace(u.GlobalName) != "" {
		return u.GlobalName
	}
	return u.Username
}

// APIError is a non-2xx answer from the Discord REST API.
type APIError struct {
	Op      string `json:"-"`
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord %s: HTTP %d code=%d message=%s", e.Op, e.Status, e.Code, e.Message)
}

// Client speaks the Discord OAuth2 and bot REST APIs for one guild and role.
type Client struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	baseURL    string
	botToken   string
	guildID    string
	roleID     string
}

// NewClient creates a Discord client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(cfg.AuthURL, DefaultAuthURL),
				TokenURL:  orDefault(cfg.TokenURL, DefaultTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		baseURL:    strings.TrimRight(orDefault(cfg.APIBaseURL, DefaultAPIBaseURL), "/"),
		botToken:   cfg.BotToken,
		guildID:    cfg.GuildID,
		roleID:     cfg.RoleID,
	}
}

// AuthCodeURL returns the authorization URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a user access token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange discord code: %w", err)
	}
	return tok, nil
}

// IsOAuthRejection reports whether err is Discord refusing the code
// (expired, reused, wrong redirect) rather than a transport failure.
func IsOAuthRejection(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

// CurrentUser fetches the user that owns tok.
func (c *Client) CurrentUser(ctx context.Context, tok *oauth2.Token) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("create discord user request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("User-Agent", userAgent)

	var user User
	if _, err := c.do(req, "get_current_user", &user); err != nil {
		return nil, err
	}
	if strings.TrimSpace(user.ID) == "" {
		return nil, fmt.Errorf("discord user response missing id")
	}
	return &user, nil
}

type addMemberRequest struct {
	AccessToken string   `json:"access_token"`
	Roles       []string `json:"roles,omitempty"`
}

// AddMember adds userID to the guild with the member role. It reports
// added=false when the user was already in the guild, in which case Discord
// ignores the roles field and the caller must use AddRole.
func (c *Client) AddMember(ctx context.Context, userID, accessToken string) (added bool, err error) {
	body, err := json.Marshal(addMemberRequest{AccessToken: accessToken, Roles: []string{c.roleID}})
	if err != nil {
		return false, fmt.Errorf("marshal add member request: %w", err)
	}
	req, err := c.botRequest(ctx, http.MethodPut, c.memberPath(userID), bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	status, err := c.do(req, "add_member", nil)
	if err != nil {
		return false, err
	}
	return status != http.StatusNoContent, nil
}

// AddRole grants the member role to a user already in the guild.
func (c *Client) AddRole(ctx context.Context, userID string) error {
	req, err := c.botRequest(ctx, http.MethodPut, c.rolePath(userID), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, "add_role", nil)
	return err
}

// RemoveRole revokes the member role. A user who already left the guild is
// treated as success.
func (c *Client) RemoveRole(ctx context.Context, userID string) error {
	req, err := c.botRequest(ctx, http.MethodDelete, c.rolePath(userID), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, "remove_role", nil)
	if IsUnknownMember(err) {
		return nil
	}
	return err
}

// IsUnknownMember reports whether err is Discord's answer for a user who is
// not in the guild.
func IsUnknownMember(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound && apiErr.Code == codeUnknownMember
}

// GuildURL is the deep link that opens the guild in the Discord client.
func (c *Client) GuildURL() string {
	return channelsURL + url.PathEscape(c.guildID)
}

func (c *Client) memberPath(userID string) string {
	return "/guilds/" + url.PathEscape(c.guildID) + "/members/" + url.PathEscape(userID)
}

func (c *Client) rolePath(userID string) string {
	return c.memberPath(userID) + "/roles/" + url.PathEscape(c.roleID)
}

func (c *Client) botRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("discord %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Op: op, Status: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return resp.StatusCode, apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode discord %s response: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

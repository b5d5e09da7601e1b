// Package oauth signs users in with their Google account through the
// authorization code flow.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/raywall/gifted-service/keyspace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ErrUnverifiedEmail is returned when the provider does not vouch for the
// account's address.
var ErrUnverifiedEmail = errors.New("oauth: email address is not verified")

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Config enables Google sign-in when ClientID is set. The URL overrides are
// for local emulators.
type Config struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET" validate:"required_with=ClientID"`
	AuthURL      string `yaml:"auth_url" env:"GOOGLE_AUTH_URL" validate:"omitempty,url"`
	TokenURL     string `yaml:"token_url" env:"GOOGLE_TOKEN_URL" validate:"omitempty,url"`
	UserInfoURL  string `yaml:"userinfo_url" env:"GOOGLE_USERINFO_URL" validate:"omitempty,url"`
}

func (c Config) Enabled() bool { return c.ClientID != "" }

// Identity is what the provider tells us about the signed-in account.
type Identity struct {
	Email string
	Name  string
	Image string
}

type Google struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// NewGoogle builds the provider. redirectURL is the public address of the
// callback route.
func NewGoogle(cfg Config, redirectURL string) *Google {
	endpoint := endpoints.Google
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = defaultUserInfoURL
	}
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: userInfo,
	}
}

// AuthCodeURL is the consent page address carrying state.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type userInfo struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades an authorization code for the account's identity.
func (g *Google) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: userinfo: status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("oauth: decode userinfo: %w", err)
	}
	if info.Email == "" || !info.EmailVerified {
		return nil, ErrUnverifiedEmail
	}
	return &Identity{
		Email: keyspace.NormalizeEmail(info.Email),
		Name:  info.Name,
		Image: info.Picture,
	}, nil
}

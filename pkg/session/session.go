// Package session issues and verifies the HS256 tokens that authenticate
// dashboard requests, and the short-lived tokens of email sign-in links.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
)

var (
	ErrUnauthenticated = errors.New("session: not authenticated")
	ErrForbidden       = errors.New("session: forbidden")
)

const (
	CookieName = "session-token"

	devUserHeader  = "x-user-sub"
	devEmailHeader = "x-user-email"

	purposeSignIn = "signin"
)

type Config struct {
	Secret       string        `yaml:"secret" env:"SESSION_SECRET" validate:"required,min=32"`
	TTL          time.Duration `yaml:"ttl" env:"SESSION_TTL" envDefault:"720h" validate:"gt=0"`
	LinkTTL      time.Duration `yaml:"link_ttl" env:"SESSION_LINK_TTL" envDefault:"15m" validate:"gt=0"`
	AdminUserIDs []string      `yaml:"admin_user_ids" env:"SESSION_ADMIN_USER_IDS"`
	DevBypass    bool          `yaml:"dev_bypass" env:"DEV_BYPASS_AUTH"`
}

// Claims of both token kinds. Purpose is empty on session tokens.
type Claims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// LinkStore remembers used sign-in links. Create must fail with
// dyndb.ErrAlreadyExists for a link that was used before.
type LinkStore interface {
	Create(ctx context.Context, link *keyspace.SignInLink) error
}

type Manager struct {
	cfg    Config
	secret []byte
	links  LinkStore
	now    func() time.Time
	newID  func() string
}

func NewManager(cfg Config, links LinkStore) *Manager {
	return &Manager{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		links:  links,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (m *Manager) sign(claims Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}
	return token, nil
}

func (m *Manager) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return claims, nil
}

// Issue returns a session token for the user and its expiry.
func (m *Manager) Issue(userID, email string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.cfg.TTL)
	token, err := m.sign(Claims{
		Email: keyspace.NormalizeEmail(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	return token, expires, err
}

// Verify checks a session token.
func (m *Manager) Verify(raw string) (*Principal, error) {
	claims, err := m.parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email}, nil
}

// IssueSignInLink returns the token of an email sign-in link. Its subject is
// the email address, since the account may not exist yet.
func (m *Manager) IssueSignInLink(email string) (string, error) {
	now := m.now()
	return m.sign(Claims{
		Email:   keyspace.NormalizeEmail(email),
		Purpose: purposeSignIn,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        m.newID(),
			Subject:   keyspace.NormalizeEmail(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.LinkTTL)),
		},
	})
}

// VerifySignInLink returns the email a sign-in link was issued for and
// marks the link used. A link works once.
func (m *Manager) VerifySignInLink(ctx context.Context, raw string) (string, error) {
	claims, err := m.parse(raw)
	if err != nil {
		return "", err
	}
	if claims.Purpose != purposeSignIn || claims.Email == "" || claims.ID == "" {
		return "", ErrUnauthenticated
	}

	err = m.links.Create(ctx, &keyspace.SignInLink{
		Email:   claims.Email,
		LinkID:  claims.ID,
		UsedAt:  m.now().UTC(),
		Expires: claims.ExpiresAt.Unix(),
	})
	if errors.Is(err, dyndb.ErrAlreadyExists) {
		return "", fmt.Errorf("%w: sign-in link already used", ErrUnauthenticated)
	}
	if err != nil {
		return "", fmt.Errorf("session: redeem sign-in link: %w", err)
	}
	return claims.Email, nil
}

// FromRequest authenticates r from, in order: the dev bypass headers when
// enabled, an Authorization bearer token, the session cookie.
func (m *Manager) FromRequest(r *http.Request) (*Principal, error) {
	if m.cfg.DevBypass {
		if sub := strings.TrimSpace(r.Header.Get(devUserHeader)); sub != "" {
			return &Principal{UserID: sub, Email: keyspace.NormalizeEmail(r.Header.Get(devEmailHeader))}, nil
		}
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return nil, ErrUnauthenticated
		}
		return m.Verify(strings.TrimSpace(token))
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return m.Verify(c.Value)
	}
	return nil, ErrUnauthenticated
}

// Cookie builds the session cookie for token.
func (m *Manager) Cookie(token string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) IsAdmin(p *Principal) bool {
	return p != nil && slices.Contains(m.cfg.AdminUserIDs, p.UserID)
}

func (m *Manager) RequireAdmin(p *Principal) error {
	if !m.IsAdmin(p) {
		return ErrForbidden
	}
	return nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || p == nil {
		return nil, ErrUnauthenticated
	}
	return p, nil
}

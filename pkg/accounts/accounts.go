// Package accounts owns user profiles: registration, password sign-in,
// gifting preferences and the billing customer link.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	passwordCost      = 12
)

var (
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	ErrWeakPassword       = fmt.Errorf("accounts: password must be at least %d characters", MinPasswordLength)
)

type Registration struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name"`
}

type Service struct {
	users  *keyspace.Users
	claims *keyspace.EmailClaims
	valid  *validator.Validate
	cost   int
	now    func() time.Time
	newID  func() string
}

func New(users *keyspace.Users, claims *keyspace.EmailClaims) *Service {
	return &Service{
		users:  users,
		claims: claims,
		valid:  validator.New(),
		cost:   passwordCost,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// ByEmail resolves an address through its claim record, a consistent read
// that names exactly one profile.
func (s *Service) ByEmail(ctx context.Context, email string) (*keyspace.User, error) {
	key := keyspace.EmailKey(email)
	claim, err := s.claims.Get(ctx, key, key)
	if err != nil {
		return nil, fmt.Errorf("accounts: lookup %s: %w", keyspace.NormalizeEmail(email), err)
	}
	return s.Profile(ctx, claim.UserID)
}

func (s *Service) Profile(ctx context.Context, userID string) (*keyspace.User, error) {
	return s.users.Get(ctx, keyspace.UserPK(userID), keyspace.ProfileSK(userID))
}

// Register creates a password account. A taken email is reported as
// dyndb.ErrAlreadyExists, also when another registration wins a race.
func (s *Service) Register(ctx context.Context, in Registration) (*keyspace.User, error) {
	if err := s.valid.StructCtx(ctx, in); err != nil {
		return nil, err
	}
	email := keyspace.NormalizeEmail(in.Email)

	_, err := s.ByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("accounts: register %s: %w", email, dyndb.ErrAlreadyExists)
	case !errors.Is(err, dyndb.ErrNotFound):
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("accounts: hash password: %w", err)
	}
	user, err := s.create(ctx, email, in.Name, string(hash))
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("user_id", user.ID).Msg("account registered")
	return user, nil
}

func (s *Service) create(ctx context.Context, email, name, hash string) (*keyspace.User, error) {
	now := s.now().UTC()
	user := &keyspace.User{
		ID:           s.newID(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	claim := &keyspace.EmailClaim{Email: email, UserID: user.ID, CreatedAt: now}
	if err := s.users.CreateWith(ctx, user, claim); err != nil {
		return nil, fmt.Errorf("accounts: create %s: %w", email, err)
	}
	return user, nil
}

// FindOrCreate returns the profile of email, creating a passwordless one on
// first sign-in. Concurrent first sign-ins all get the same profile.
func (s *Service) FindOrCreate(ctx context.Context, email string) (*keyspace.User, error) {
	if err := s.valid.Var(email, "required,email"); err != nil {
		return nil, err
	}
	user, err := s.ByEmail(ctx, email)
	if err == nil || !errors.Is(err, dyndb.ErrNotFound) {
		return user, err
	}
	user, err = s.create(ctx, keyspace.NormalizeEmail(email), "", "")
	if errors.Is(err, dyndb.ErrAlreadyExists) {
		return s.ByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("user_id", user.ID).Msg("account created from email sign-in")
	return user, nil
}

// Authenticate checks a password sign-in. Unknown emails, accounts without a
// password and wrong passwords all return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*keyspace.User, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.ByEmail(ctx, email)
	if errors.Is(err, dyndb.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// SetPassword stores a new password hash.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("accounts: hash password: %w", err)
	}
	_, err = s.users.UpdateAttributes(ctx, keyspace.UserPK(userID), keyspace.ProfileSK(userID), func(u *keyspace.User) error {
		u.PasswordHash = string(hash)
		u.UpdatedAt = s.now().UTC()
		return nil
	})
	return err
}

// Preferences returns nil when the user never saved any.
func (s *Service) Preferences(ctx context.Context, userID string) (*keyspace.GiftingPreferences, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Preferences, nil
}

func (s *Service) UpdatePreferences(ctx context.Context, userID string, prefs keyspace.GiftingPreferences) (*keyspace.GiftingPreferences, error) {
	prefs.UpdatedAt = s.now().UTC()
	_, err := s.users.UpdateAttributes(ctx, keyspace.UserPK(userID), keyspace.ProfileSK(userID), func(u *keyspace.User) error {
		u.Preferences = &prefs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (s *Service) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := s.users.UpdateAttributes(ctx, keyspace.UserPK(userID), keyspace.ProfileSK(userID), func(u *keyspace.User) error {
		u.StripeCustomerID = customerID
		u.UpdatedAt = s.now().UTC()
		return nil
	})
	return err
}

package newsletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/raywall/gifted-service/dyndb"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidEmail = errors.New("newsletter: invalid email address")
	ErrInvalidLink  = errors.New("newsletter: invalid verification link")
	ErrInvalidToken = errors.New("newsletter: invalid verification token")
	// ErrUnsubscribed is returned for addresses that left the list. There is
	// no way back from that state.
	ErrUnsubscribed = errors.New("newsletter: email has unsubscribed")
)

type Outcome string

const (
	VerificationSent   Outcome = "verification_sent"
	VerificationResent Outcome = "verification_resent"
	AlreadySubscribed  Outcome = "already_subscribed"
	Verified           Outcome = "verified"
	AlreadyVerified    Outcome = "already_verified"
)

// Notifier sends the newsletter emails.
type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
	SendWelcome(ctx context.Context, email string) error
}

type Service struct {
	subscribers dyndb.Store[keyspace.NewsletterSubscriber]
	tracking    dyndb.Store[keyspace.EmailTrackingRecord]
	notifier    Notifier
	metrics     metrics.Recorder
	valid       *validator.Validate
	topicARN    string
	now         func() time.Time
	newToken    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithTopicARN restricts feedback to notifications from one SNS topic.
func WithTopicARN(arn string) Option {
	return func(s *Service) { s.topicARN = arn }
}

func WithMetrics(p metrics.Provider) Option {
	return func(s *Service) { s.metrics = metrics.NewRecorder(p) }
}

func New(subscribers dyndb.Store[keyspace.NewsletterSubscriber], tracking dyndb.Store[keyspace.EmailTrackingRecord], notifier Notifier, opts ...Option) *Service {
	s := &Service{
		subscribers: subscribers,
		tracking:    tracking,
		notifier:    notifier,
		valid:       validator.New(),
		now:         time.Now,
		newToken:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) normalize(email string) (string, error) {
	email = keyspace.NormalizeEmail(email)
	if err := s.valid.Var(email, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (s *Service) transition(ctx context.Context, email string, to keyspace.NewsletterStatus) {
	s.metrics.Count(ctx, metrics.NewsletterTransitions, "to:"+string(to))
	log.Ctx(ctx).Info().Str("email", email).Str("status", string(to)).Msg("newsletter status changed")
}

// Subscribe starts, resumes or acknowledges a subscription:
//   - unknown address: stored as pending with a fresh token, verification mailed;
//   - pending: verification mailed again with the stored token;
//   - active: nothing happens;
//   - unsubscribed: ErrUnsubscribed.
func (s *Service) Subscribe(ctx context.Context, rawEmail string) (Outcome, error) {
	email, err := s.normalize(rawEmail)
	if err != nil {
		return "", err
	}

	existing, err := s.subscribers.Get(ctx, email, nil)
	switch {
	case errors.Is(err, dyndb.ErrNotFound):
		sub := keyspace.NewsletterSubscriber{
			Email:             email,
			SubscribedAt:      s.now().UTC(),
			Status:            keyspace.NewsletterPending,
			VerificationToken: s.newToken(),
		}
		// a concurrent subscribe for the same address surfaces as
		// dyndb.ErrAlreadyExists
		if err := s.subscribers.Create(ctx, sub); err != nil {
			return "", fmt.Errorf("newsletter: subscribe %s: %w", email, err)
		}
		s.transition(ctx, email, keyspace.NewsletterPending)
		if err := s.notifier.SendVerification(ctx, email, sub.VerificationToken); err != nil {
			return "", err
		}
		return VerificationSent, nil
	case err != nil:
		return "", fmt.Errorf("newsletter: subscribe %s: %w", email, err)
	}

	switch existing.Status {
	case keyspace.NewsletterActive:
		return AlreadySubscribed, nil
	case keyspace.NewsletterUnsubscribed:
		return "", ErrUnsubscribed
	}

	token := existing.VerificationToken
	if token == "" {
		token = s.newToken()
		_, err := s.subscribers.UpdateIf(ctx, email, nil,
			map[string]any{"verification_token": token},
			dyndb.Equal("status", string(keyspace.NewsletterPending)))
		if errors.Is(err, dyndb.ErrConditionFailed) {
			return s.resubscribeLost(ctx, email)
		}
		if err != nil {
			return "", fmt.Errorf("newsletter: subscribe %s: %w", email, err)
		}
	}
	if err := s.notifier.SendVerification(ctx, email, token); err != nil {
		return "", err
	}
	return VerificationResent, nil
}

// Verify completes the double opt-in.
func (s *Service) Verify(ctx context.Context, rawEmail, token string) (Outcome, error) {
	if rawEmail == "" || token == "" {
		return "", ErrInvalidLink
	}
	email := keyspace.NormalizeEmail(rawEmail)

	sub, err := s.subscribers.Get(ctx, email, nil)
	if err != nil {
		return "", fmt.Errorf("newsletter: verify %s: %w", email, err)
	}
	switch sub.Status {
	case keyspace.NewsletterActive:
		return AlreadyVerified, nil
	case keyspace.NewsletterUnsubscribed:
		return "", ErrUnsubscribed
	}
	if sub.VerificationToken != token {
		return "", ErrInvalidToken
	}

	// the record may have left pending since the read
	_, err = s.subscribers.UpdateIf(ctx, email, nil, map[string]any{
		"status":      string(keyspace.NewsletterActive),
		"verified_at": s.now().UTC(),
	},
		dyndb.Equal("status", string(keyspace.NewsletterPending)),
		dyndb.Equal("verification_token", token))
	if errors.Is(err, dyndb.ErrConditionFailed) {
		return s.verifyLost(ctx, email)
	}
	if err != nil {
		return "", fmt.Errorf("newsletter: verify %s: %w", email, err)
	}
	s.transition(ctx, email, keyspace.NewsletterActive)

	if err := s.notifier.SendWelcome(ctx, email); err != nil {
		return "", err
	}
	return Verified, nil
}

// resubscribeLost reports the state that beat a resend to the record.
func (s *Service) resubscribeLost(ctx context.Context, email string) (Outcome, error) {
	sub, err := s.subscribers.Get(ctx, email, nil)
	if err != nil {
		return "", fmt.Errorf("newsletter: subscribe %s: %w", email, err)
	}
	switch sub.Status {
	case keyspace.NewsletterActive:
		return AlreadySubscribed, nil
	case keyspace.NewsletterUnsubscribed:
		return "", ErrUnsubscribed
	}
	return "", fmt.Errorf("newsletter: subscribe %s: %w", email, dyndb.ErrConditionFailed)
}

// verifyLost reports the state that beat a verification to the record.
func (s *Service) verifyLost(ctx context.Context, email string) (Outcome, error) {
	sub, err := s.subscribers.Get(ctx, email, nil)
	if err != nil {
		return "", fmt.Errorf("newsletter: verify %s: %w", email, err)
	}
	switch sub.Status {
	case keyspace.NewsletterActive:
		return AlreadyVerified, nil
	case keyspace.NewsletterUnsubscribed:
		return "", ErrUnsubscribed
	}
	return "", ErrInvalidToken
}

// Unsubscribe marks the address unsubscribed. Unknown addresses are
// accepted silently so the link always lands on the confirmation page.
func (s *Service) Unsubscribe(ctx context.Context, rawEmail string) error {
	email := keyspace.NormalizeEmail(rawEmail)
	if email == "" {
		return ErrInvalidEmail
	}
	err := s.unsubscribe(ctx, email)
	if errors.Is(err, dyndb.ErrNotFound) {
		log.Ctx(ctx).Debug().Str("email", email).Msg("unsubscribe for unknown address")
		return nil
	}
	return err
}

func (s *Service) unsubscribe(ctx context.Context, email string) error {
	_, err := s.subscribers.Update(ctx, email, nil, map[string]any{
		"status":          string(keyspace.NewsletterUnsubscribed),
		"unsubscribed_at": s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("newsletter: unsubscribe %s: %w", email, err)
	}
	s.transition(ctx, email, keyspace.NewsletterUnsubscribed)
	return nil
}

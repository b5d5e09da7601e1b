// Package gifts manages gift requests: the owner's CRUD, aesthetic image
// uploads and the admin fulfilment queue.
package gifts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/storage"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidStatus = errors.New("gifts: invalid gift status")
	ErrInvalidRange  = errors.New("gifts: invalid due date range")
)

const dateLayout = "2006-01-02"

// Input is the body of a gift creation.
type Input struct {
	RecipientName       string                    `json:"recipientName" validate:"required"`
	Occasion            string                    `json:"occasion" validate:"required"`
	DueDate             string                    `json:"dueDate" validate:"required,datetime=2006-01-02"`
	RecipientStyle      []string                  `json:"recipientStyle"`
	RecipientInterests  []string                  `json:"recipientInterests"`
	RelationshipContext string                    `json:"relationshipContext"`
	AestheticImages     []string                  `json:"aestheticImages"`
	AdditionalInfo      string                    `json:"additionalInfo"`
	ShippingAddress     *keyspace.ShippingAddress `json:"shippingAddress"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	RecipientName       *string                   `json:"recipientName"`
	Occasion            *string                   `json:"occasion"`
	DueDate             *string                   `json:"dueDate"`
	RecipientStyle      []string                  `json:"recipientStyle"`
	RecipientInterests  []string                  `json:"recipientInterests"`
	RelationshipContext *string                   `json:"relationshipContext"`
	AestheticImages     []string                  `json:"aestheticImages"`
	AdditionalInfo      *string                   `json:"additionalInfo"`
	ShippingAddress     *keyspace.ShippingAddress `json:"shippingAddress"`
}

func (p Patch) apply(g *keyspace.Gift) {
	if p.RecipientName != nil {
		g.RecipientName = *p.RecipientName
	}
	if p.Occasion != nil {
		g.Occasion = *p.Occasion
	}
	if p.DueDate != nil {
		g.DueDate = *p.DueDate
	}
	if p.RecipientStyle != nil {
		g.RecipientStyle = p.RecipientStyle
	}
	if p.RecipientInterests != nil {
		g.RecipientInterests = p.RecipientInterests
	}
	if p.RelationshipContext != nil {
		g.RelationshipContext = *p.RelationshipContext
	}
	if p.AestheticImages != nil {
		g.AestheticImages = p.AestheticImages
	}
	if p.AdditionalInfo != nil {
		g.AdditionalInfo = *p.AdditionalInfo
	}
	if p.ShippingAddress != nil {
		g.ShippingAddress = p.ShippingAddress
	}
}

// ImagePresigner issues upload URLs for gift images.
type ImagePresigner interface {
	PresignGiftImage(ctx context.Context, userID, giftID, contentType string) (*storage.Upload, error)
}

type Service struct {
	gifts  *keyspace.Gifts
	images ImagePresigner
	valid  *validator.Validate
	now    func() time.Time
	newID  func() string
}

// New returns a Service. images may be nil when uploads are not configured.
func New(gifts *keyspace.Gifts, images ImagePresigner) *Service {
	return &Service{
		gifts:  gifts,
		images: images,
		valid:  validator.New(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Service) Create(ctx context.Context, userID string, in Input) (*keyspace.Gift, error) {
	if err := s.valid.StructCtx(ctx, in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	gift := &keyspace.Gift{
		ID:                  s.newID(),
		UserID:              userID,
		RecipientName:       in.RecipientName,
		Occasion:            in.Occasion,
		DueDate:             in.DueDate,
		Status:              keyspace.GiftPending,
		RecipientStyle:      in.RecipientStyle,
		RecipientInterests:  in.RecipientInterests,
		RelationshipContext: in.RelationshipContext,
		AestheticImages:     in.AestheticImages,
		AdditionalInfo:      in.AdditionalInfo,
		ShippingAddress:     in.ShippingAddress,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.gifts.Create(ctx, gift); err != nil {
		return nil, fmt.Errorf("gifts: create: %w", err)
	}
	log.Ctx(ctx).Info().Str("gift_id", gift.ID).Str("user_id", userID).Msg("gift created")
	return gift, nil
}

// List returns every gift of the user, ordered by id.
func (s *Service) List(ctx context.Context, userID string) ([]keyspace.Gift, error) {
	gifts, err := s.gifts.QueryByPrimary(ctx, keyspace.UserPK(userID), keyspace.Prefix(keyspace.GiftSKPrefix))
	if err != nil {
		return nil, fmt.Errorf("gifts: list: %w", err)
	}
	return gifts, nil
}

func (s *Service) Get(ctx context.Context, userID, giftID string) (*keyspace.Gift, error) {
	return s.gifts.Get(ctx, keyspace.UserPK(userID), keyspace.GiftSK(giftID))
}

func (s *Service) Update(ctx context.Context, userID, giftID string, patch Patch) (*keyspace.Gift, error) {
	return s.gifts.UpdateAttributes(ctx, keyspace.UserPK(userID), keyspace.GiftSK(giftID), func(g *keyspace.Gift) error {
		patch.apply(g)
		g.UpdatedAt = s.now().UTC()
		return nil
	})
}

// SetStatus moves a gift through fulfilment. The GSI1 partition follows the
// new status.
func (s *Service) SetStatus(ctx context.Context, userID, giftID string, status keyspace.GiftStatus) (*keyspace.Gift, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	gift, err := s.gifts.UpdateAttributes(ctx, keyspace.UserPK(userID), keyspace.GiftSK(giftID), func(g *keyspace.Gift) error {
		g.Status = status
		g.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("gift_id", giftID).Str("status", string(status)).Msg("gift status changed")
	return gift, nil
}

// Queue lists gifts in one status across all users, ordered by due date.
// from and to are inclusive YYYY-MM-DD bounds; either may be empty.
func (s *Service) Queue(ctx context.Context, status keyspace.GiftStatus, from, to string) ([]keyspace.Gift, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRange, d)
		}
	}
	if from != "" && to != "" && from > to {
		return nil, fmt.Errorf("%w: %s after %s", ErrInvalidRange, from, to)
	}

	gifts, err := s.gifts.QueryBySecondary(ctx, keyspace.GiftStatusKey(status), keyspace.Between(from, to))
	if err != nil {
		return nil, fmt.Errorf("gifts: queue %s: %w", status, err)
	}
	return gifts, nil
}

// PresignImage returns an upload URL for a new aesthetic image of one of the
// user's gifts.
func (s *Service) PresignImage(ctx context.Context, userID, giftID, contentType string) (*storage.Upload, error) {
	if s.images == nil {
		return nil, errors.New("gifts: image uploads are not configured")
	}
	if _, err := s.Get(ctx, userID, giftID); err != nil {
		return nil, err
	}
	return s.images.PresignGiftImage(ctx, userID, giftID, contentType)
}

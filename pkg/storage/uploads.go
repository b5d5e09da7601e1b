// Package storage presigns direct browser uploads to S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var ErrUnsupportedImage = errors.New("storage: unsupported image content type")

// imageTypes maps accepted content types to the key extension.
var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Presigner is the part of s3.PresignClient used here.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Config struct {
	ImagesBucket string        `yaml:"images_bucket" env:"AWS_S3_IMAGES_BUCKET"`
	UploadTTL    time.Duration `yaml:"upload_ttl" env:"AWS_S3_UPLOAD_TTL" envDefault:"15m" validate:"gt=0"`
}

// Upload is a presigned PUT for one object.
type Upload struct {
	Key         string    `json:"key"`
	URL         string    `json:"uploadUrl"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type ImageUploads struct {
	presigner Presigner
	cfg       Config
	now       func() time.Time
	newID     func() string
}

func NewImageUploads(p Presigner, cfg Config) *ImageUploads {
	return &ImageUploads{presigner: p, cfg: cfg, now: time.Now, newID: uuid.NewString}
}

// GiftImageKey is the object key for an aesthetic image of a gift.
func GiftImageKey(userID, giftID, name, ext string) string {
	return path.Join("users", userID, "gifts", giftID, name+ext)
}

// PresignGiftImage returns a PUT URL for a new image of the gift. The caller
// owns the ownership check on the gift.
func (u *ImageUploads) PresignGiftImage(ctx context.Context, userID, giftID, contentType string) (*Upload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := imageTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedImage, contentType)
	}

	key := GiftImageKey(userID, giftID, u.newID(), ext)
	req, err := u.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.ImagesBucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"user_id": userID,
			"gift_id": giftID,
		},
	}, func(o *s3.PresignOptions) { o.Expires = u.cfg.UploadTTL })
	if err != nil {
		return nil, fmt.Errorf("storage: presign %s: %w", key, err)
	}

	return &Upload{
		Key:         key,
		URL:         req.URL,
		ContentType: contentType,
		ExpiresAt:   u.now().UTC().Add(u.cfg.UploadTTL),
	}, nil
}

// Package media issues presigned S3 upload URLs for image and voice-note
// attachments. Clients upload directly to the bucket and then send the
// returned file URL as imageUrl or audioUrl.
package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"bookhaven/server/internal/config"
	"bookhaven/server/internal/validation"
)

const (
	KindImage = "image"
	KindVoice = "voice"

	MaxImageSize = 5 * 1024 * 1024  // 5MB
	MaxVoiceSize = 10 * 1024 * 1024 // 10MB
)

// ErrDisabled is returned when no bucket is configured.
var ErrDisabled = errors.New("media: uploads are not configured")

var allowedExts = map[string][]string{
	KindImage: {".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic"},
	KindVoice: {".mp3", ".wav", ".ogg", ".m4a", ".aac", ".webm"},
}

// PresignRequest is the body of POST /uploads/presign.
type PresignRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=image voice"`
	FileName    string `json:"fileName" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"omitempty,max=100"`
	Size        int64  `json:"size" validate:"omitempty,min=1"`
}

// PresignedUpload tells the client where to PUT the file and what URL to
// reference afterwards.
type PresignedUpload struct {
	UploadURL   string    `json:"uploadUrl"`
	Method      string    `json:"method"`
	Key         string    `json:"key"`
	FileURL     string    `json:"fileUrl"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Presigner is the subset of *s3.PresignClient used here.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Uploads struct {
	presigner     Presigner
	bucket        string
	region        string
	publicBaseURL string
	expiry        time.Duration
	now           func() time.Time
}

// New loads AWS credentials from the default chain and returns an Uploads
// bound to cfg.Bucket.
func New(ctx context.Context, cfg config.StorageConfig) (*Uploads, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithPresigner(s3.NewPresignClient(s3.NewFromConfig(awsCfg)), cfg), nil
}

func NewWithPresigner(p Presigner, cfg config.StorageConfig) *Uploads {
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Uploads{
		presigner:     p,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		expiry:        expiry,
		now:           time.Now,
	}
}

// Presign validates req and returns a presigned PUT for a new object owned
// by userID.
func (u *Uploads) Presign(ctx context.Context, userID string, req PresignRequest) (PresignedUpload, error) {
	if err := validation.Struct(&req); err != nil {
		return PresignedUpload{}, err
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	if !isAllowedExtension(ext, req.Kind) {
		return PresignedUpload{}, fieldError("fileName", "extension", fmt.Sprintf("File extension %s not allowed for %s uploads", ext, req.Kind))
	}

	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if contentType == "" {
		contentType = getContentType(ext)
	}
	if !matchesKind(contentType, req.Kind) {
		return PresignedUpload{}, fieldError("contentType", "content_type", fmt.Sprintf("Content type %s does not match a %s upload", contentType, req.Kind))
	}

	limit := int64(MaxImageSize)
	if req.Kind == KindVoice {
		limit = MaxVoiceSize
	}
	if req.Size > limit {
		return PresignedUpload{}, fieldError("size", "max", fmt.Sprintf("File size exceeds limit of %dMB", limit/(1024*1024)))
	}

	key := fmt.Sprintf("chat/%ss/%s/%s-%d%s", req.Kind, userID, uuid.New().String(), u.now().Unix(), ext)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}
	if req.Size > 0 {
		input.ContentLength = aws.Int64(req.Size)
	}

	expiresAt := u.now().Add(u.expiry)
	signed, err := u.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(u.expiry))
	if err != nil {
		return PresignedUpload{}, fmt.Errorf("presign put %s: %w", key, err)
	}

	return PresignedUpload{
		UploadURL:   signed.URL,
		Method:      signed.Method,
		Key:         key,
		FileURL:     u.fileURL(key),
		ContentType: contentType,
		ExpiresAt:   expiresAt,
	}, nil
}

func (u *Uploads) fileURL(key string) string {
	if u.publicBaseURL != "" {
		return u.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}

func fieldError(field, tag, msg string) error {
	return validation.Errors{{Field: field, Tag: tag, Message: msg}}
}

func isAllowedExtension(ext, kind string) bool {
	for _, allowed := range allowedExts[kind] {
		if ext == allowed {
			return true
		}
	}
	return false
}

func matchesKind(contentType, kind string) bool {
	switch kind {
	case KindImage:
		return strings.HasPrefix(contentType, "image/")
	case KindVoice:
		// Browsers record voice notes as audio/webm or video/webm.
		return strings.HasPrefix(contentType, "audio/") || contentType == "video/webm"
	}
	return false
}

func getContentType(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

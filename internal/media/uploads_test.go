package media

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"bookhaven/server/internal/config"
	"bookhaven/server/internal/validation"
)

type fakePresigner struct {
	input   *s3.PutObjectInput
	expires time.Duration
	err     error
}

func (f *fakePresigner) PresignPutObject(_ context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + aws.ToString(params.Key), Method: "PUT"}, nil
}

func newUploads(p Presigner, publicBase string) *Uploads {
	u := NewWithPresigner(p, config.StorageConfig{
		Bucket:        "bookhaven-media",
		Region:        "eu-west-1",
		PublicBaseURL: publicBase,
		PresignExpiry: 10 * time.Minute,
	})
	u.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return u
}

func TestPresign(t *testing.T) {
	p := &fakePresigner{}
	u := newUploads(p, "")

	got, err := u.Presign(context.Background(), "user-1", PresignRequest{Kind: KindImage, FileName: "Cover.JPG", Size: 1024})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(got.Key, "chat/images/user-1/") || !strings.HasSuffix(got.Key, ".jpg") {
		t.Errorf("Key = %q", got.Key)
	}
	if got.FileURL != "https://bookhaven-media.s3.eu-west-1.amazonaws.com/"+got.Key {
		t.Errorf("FileURL = %q", got.FileURL)
	}
	if got.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", got.ContentType)
	}
	if got.UploadURL == "" || got.Method != "PUT" {
		t.Errorf("UploadURL = %q Method = %q", got.UploadURL, got.Method)
	}
	if want := u.now().Add(10 * time.Minute); !got.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
	}
	if p.expires != 10*time.Minute {
		t.Errorf("presign expiry = %v", p.expires)
	}
	if aws.ToString(p.input.Bucket) != "bookhaven-media" || aws.ToInt64(p.input.ContentLength) != 1024 {
		t.Errorf("input = %+v", p.input)
	}
}

func TestPresignPublicBaseURL(t *testing.T) {
	u := newUploads(&fakePresigner{}, "https://cdn.example/")
	got, err := u.Presign(context.Background(), "u", PresignRequest{Kind: KindVoice, FileName: "note.m4a", ContentType: "audio/mp4"})
	if err != nil {
		t.Fatal(err)
	}
	if got.FileURL != "https://cdn.example/"+got.Key {
		t.Errorf("FileURL = %q", got.FileURL)
	}
}

func TestPresignValidation(t *testing.T) {
	tests := []struct {
		name      string
		req       PresignRequest
		wantField string
	}{
		{"missing kind", PresignRequest{FileName: "a.png"}, "kind"},
		{"unknown kind", PresignRequest{Kind: "video", FileName: "a.mp4"}, "kind"},
		{"missing file name", PresignRequest{Kind: KindImage}, "fileName"},
		{"bad extension", PresignRequest{Kind: KindImage, FileName: "a.exe"}, "fileName"},
		{"audio as image", PresignRequest{Kind: KindImage, FileName: "a.mp3"}, "fileName"},
		{"content type mismatch", PresignRequest{Kind: KindImage, FileName: "a.png", ContentType: "audio/mpeg"}, "contentType"},
		{"too large", PresignRequest{Kind: KindImage, FileName: "a.png", Size: MaxImageSize + 1}, "size"},
		{"voice too large", PresignRequest{Kind: KindVoice, FileName: "a.ogg", Size: MaxVoiceSize + 1}, "size"},
	}
	u := newUploads(&fakePresigner{}, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.Presign(context.Background(), "u", tt.req)
			var verrs validation.Errors
			if !errors.As(err, &verrs) {
				t.Fatalf("err = %v, want validation.Errors", err)
			}
			first, _ := verrs.First()
			if first.Field != tt.wantField {
				t.Errorf("field = %q, want %q", first.Field, tt.wantField)
			}
		})
	}
}

func TestPresignWebmVoice(t *testing.T) {
	u := newUploads(&fakePresigner{}, "")
	if _, err := u.Presign(context.Background(), "u", PresignRequest{Kind: KindVoice, FileName: "rec.webm", ContentType: "video/webm"}); err != nil {
		t.Fatalf("video/webm voice note should be accepted: %v", err)
	}
}

func TestPresignProviderError(t *testing.T) {
	u := newUploads(&fakePresigner{err: errors.New("no credentials")}, "")
	_, err := u.Presign(context.Background(), "u", PresignRequest{Kind: KindImage, FileName: "a.png"})
	var verrs validation.Errors
	if err == nil || errors.As(err, &verrs) {
		t.Fatalf("err = %v, want a non-validation error", err)
	}
}

func TestNewDisabled(t *testing.T) {
	if _, err := New(context.Background(), config.StorageConfig{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

// Package upload hands out presigned URLs so browsers can PUT item photos
// straight into an S3 compatible bucket (MinIO, R2, S3).
package upload

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/xid"

	"github.com/sakif/ecoloop/internal/apperror"
)

// Expiry is how long a presigned upload URL stays valid.
const Expiry = 15 * time.Minute

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Signature is returned to the client. UploadURL takes a single PUT with the
// same Content-Type; PublicURL is what the item should store afterwards.
type Signature struct {
	UploadURL string    `json:"uploadUrl"`
	PublicURL string    `json:"publicUrl"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type presigner interface {
	PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error)
}

type Signer struct {
	client     presigner
	bucket     string
	publicBase string
}

// NewSigner connects to the bucket endpoint and creates the bucket if missing.
func NewSigner(ctx context.Context, endpoint, accessKey, secretKey, bucket, region string, useSSL bool, publicURL string) (*Signer, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("upload: bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("upload: make bucket: %w", err)
		}
	}

	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + endpoint + "/" + bucket
	}
	return newSigner(client, bucket, publicURL), nil
}

func newSigner(client presigner, bucket, publicBase string) *Signer {
	return &Signer{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/")}
}

// Extension maps an accepted image content type to its file extension.
func Extension(contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	ext, ok := extensions[ct]
	return ext, ok
}

// ObjectKey is items/<userID>/<xid><ext>.
func ObjectKey(userID, ext string) string {
	return "items/" + userID + "/" + xid.New().String() + ext
}

func (s *Signer) Sign(ctx context.Context, userID, contentType string) (*Signature, error) {
	ext, ok := Extension(contentType)
	if !ok {
		return nil, apperror.ValidationFailed("contentType", "only JPEG, PNG, WebP and GIF images can be uploaded")
	}

	key := ObjectKey(userID, ext)
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, Expiry)
	if err != nil {
		return nil, fmt.Errorf("upload: presign %s: %w", key, err)
	}

	return &Signature{
		UploadURL: u.String(),
		PublicURL: s.publicBase + "/" + key,
		Key:       key,
		ExpiresAt: time.Now().Add(Expiry).UTC(),
	}, nil
}

package archive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// DefaultURLExpiry is the lifetime of presigned archive URLs.
const DefaultURLExpiry = time.Hour

// S3PutAPI is the subset of *s3.Client used for uploads.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3PresignAPI is the subset of *s3.PresignClient used for download links.
type S3PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Published locates an archive uploaded to S3.
type Published struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// S3Publisher uploads archives to S3 and hands out presigned GET URLs.
type S3Publisher struct {
	Client    S3PutAPI
	Presigner S3PresignAPI
	Bucket    string
	Prefix    string
	Expiry    time.Duration
}

// Publish uploads the archive behind h and returns a presigned URL for it.
// The local file is left alone; the caller still releases it.
func (p *S3Publisher) Publish(ctx context.Context, h *Handle) (*Published, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("open archive for upload: %w", err)
	}
	defer f.Close()

	key := strings.TrimSuffix(p.Prefix, "/")
	if key != "" {
		key += "/"
	}
	key += h.BatchID + "/" + h.Filename()

	contentType := "application/zip"
	disposition := fmt.Sprintf(`attachment; filename="%s"`, h.Filename())
	_, err = p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             &p.Bucket,
		Key:                &key,
		Body:               f,
		ContentType:        &contentType,
		ContentDisposition: &disposition,
	})
	if err != nil {
		return nil, fmt.Errorf("upload archive to S3: %w", err)
	}

	expiry := p.Expiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	req, err := p.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &p.Bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return nil, fmt.Errorf("presign GetObject: %w", err)
	}

	log.Info().
		Str("batch", h.BatchID).
		Str("key", key).
		Int64("size", h.Size).
		Msg("Archive published to S3")

	return &Published{
		Bucket:    p.Bucket,
		Key:       key,
		URL:       req.URL,
		ExpiresAt: time.Now().Add(expiry).UTC(),
	}, nil
}

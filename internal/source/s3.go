package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/media"
)

// S3API is the subset of *s3.Client used by S3Source.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source serves attachments mirrored into an S3 bucket, one prefix per
// chat. The first path segment below the prefix is the topic.
type S3Source struct {
	Client S3API
	Bucket string
}

// NewS3Source creates an S3Source for bucket.
func NewS3Source(client S3API, bucket string) *S3Source {
	return &S3Source{Client: client, Bucket: bucket}
}

// splitRef accepts "s3://bucket/prefix" or a bare prefix in the default bucket.
func (s *S3Source) splitRef(ref string) (bucket, prefix string) {
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, prefix, _ = strings.Cut(rest, "/")
		return bucket, prefix
	}
	return s.Bucket, strings.TrimPrefix(ref, "/")
}

// List pages through ListObjectsV2 until limit objects are collected.
func (s *S3Source) List(ctx context.Context, ref string, limit int) ([]media.RawMetadata, error) {
	bucket, prefix := s.splitRef(ref)
	if bucket == "" {
		return nil, Permanent(errors.New("no bucket in reference " + ref))
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var items []media.RawMetadata
	var token *string
	for {
		out, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, classifyS3(fmt.Errorf("S3 ListObjectsV2: %w", err))
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			rel := strings.TrimPrefix(key, prefix)
			topic := ""
			if i := strings.IndexByte(rel, '/'); i > 0 {
				topic = rel[:i]
			}
			items = append(items, media.RawMetadata{
				ID:       rel,
				Filename: path.Base(key),
				Size:     aws.ToInt64(obj.Size),
				Date:     aws.ToTime(obj.LastModified),
				Topic:    topic,
				Ref:      "s3://" + bucket + "/" + key,
			})
			if limit > 0 && len(items) >= limit {
				return items, nil
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	log.Debug().Str("bucket", bucket).Str("prefix", prefix).Int("count", len(items)).Msg("Listed S3 source")
	return items, nil
}

// Fetch streams one object. The MIME type S3 reports is not needed here;
// classification already happened from the listing.
func (s *S3Source) Fetch(ctx context.Context, raw media.RawMetadata) (io.ReadCloser, error) {
	bucket, key := s.splitRef(raw.Ref)
	if raw.Ref == "" {
		bucket, key = s.Bucket, raw.ID
	}
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classifyS3(fmt.Errorf("S3 GetObject %s: %w", key, err))
	}
	return out.Body, nil
}

// classifyS3 maps S3 error codes onto the transient/permanent split.
func classifyS3(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return Permanent(fmt.Errorf("%w: %w", ErrNotFound, err))
		case "AccessDenied", "InvalidObjectState", "InvalidBucketName":
			return Permanent(err)
		}
	}
	return Transient(err, 0)
}

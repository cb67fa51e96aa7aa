package source

import (
	"fmt"
	"strings"
)

// Options selects and configures a Source implementation.
type Options struct {
	GatewayURL   string // HTTP gateway base URL
	SessionToken string // bearer token for the gateway
	S3           S3API  // client for s3:// references
	S3Bucket     string // default bucket for bare S3 prefixes
	DirRoot      string // root for relative directory references
}

// Open picks the Source that can serve ref:
//
//	s3://bucket/prefix       → S3Source (requires Options.S3)
//	anything, gateway set    → HTTPSource
//	otherwise                → DirSource
func Open(ref string, opts Options) (Source, error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		if opts.S3 == nil {
			return nil, fmt.Errorf("reference %s needs an S3 client", ref)
		}
		return NewS3Source(opts.S3, opts.S3Bucket), nil
	case opts.GatewayURL != "":
		return NewHTTPSource(opts.GatewayURL, opts.SessionToken), nil
	default:
		return NewDirSource(opts.DirRoot), nil
	}
}

package main

import (
	"strings"

	"github.com/fpang/media-bundler/internal/source"
)

// resolveRef normalizes a user-supplied chat reference. Links and
// usernames are only parsed for gateway sources; directory and S3
// references are paths and pass through untouched.
func resolveRef(arg string) (string, error) {
	if strings.HasPrefix(arg, "s3://") || cfg.Source.GatewayURL == "" {
		return arg, nil
	}
	ref, err := source.ParseRef(arg)
	if err != nil {
		return "", err
	}
	return ref.String(), nil
}

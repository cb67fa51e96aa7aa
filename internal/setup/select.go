package setup

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/mediaprobe"
	"github.com/fpang/media-bundler/internal/source"
)

// Selection narrows a listing before it becomes a batch. Empty fields
// select everything.
type Selection struct {
	Kinds []string `json:"kinds,omitempty"`
	IDs   []string `json:"ids,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// Validate rejects unknown kinds and negative limits.
func (s Selection) Validate() error {
	for _, k := range s.Kinds {
		switch media.Kind(k) {
		case media.KindPhoto, media.KindVideo, media.KindAudio, media.KindDocument:
		default:
			return fmt.Errorf("unknown kind %q (want photo, video, audio or document)", k)
		}
	}
	if s.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

// ListItems lists ref, classifies every attachment and keeps those matching
// sel, in source order. maxLimit bounds the listing regardless of sel.Limit.
func ListItems(ctx context.Context, src source.Source, ref string, sel Selection, maxLimit int) ([]media.Item, error) {
	limit := maxLimit
	if sel.Limit > 0 && (limit <= 0 || sel.Limit < limit) {
		limit = sel.Limit
	}
	raws, err := src.List(ctx, ref, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ref, err)
	}

	items := make([]media.Item, 0, len(raws))
	for _, raw := range raws {
		item := mediaprobe.Classify(raw)
		if len(sel.Kinds) > 0 && !slices.Contains(sel.Kinds, string(item.Kind)) {
			continue
		}
		if len(sel.IDs) > 0 && !slices.Contains(sel.IDs, item.ID) {
			continue
		}
		items = append(items, item)
	}
	log.Debug().Str("ref", ref).Int("listed", len(raws)).Int("selected", len(items)).Msg("Selection applied")
	return items, nil
}

// TopicOf names the group an item is listed under.
func TopicOf(item media.Item) string {
	if item.Topic == "" {
		return "General"
	}
	return item.Topic
}

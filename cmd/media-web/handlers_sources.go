package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/auth"
	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/setup"
	"github.com/fpang/media-bundler/internal/source"
)

// listedItem is one attachment in a listing response.
type listedItem struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     media.Kind `json:"kind"`
	Size     int64      `json:"size,omitempty"`
	Topic    string     `json:"topic"`
	Date     string     `json:"date,omitempty"`
	MIMEType string     `json:"mimeType,omitempty"`
}

// GET /api/sources/list?chat=...&kind=video&kind=photo&limit=100
func (s *server) handleSourceList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	chat := strings.TrimSpace(q.Get("chat"))
	if chat == "" {
		httpError(w, http.StatusBadRequest, "chat is required")
		return
	}
	if containsPathTraversal(chat) {
		httpError(w, http.StatusBadRequest, "invalid chat reference")
		return
	}
	sel := setup.Selection{Kinds: q["kind"]}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		sel.Limit = n
	}
	if err := sel.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref, err := s.resolveRef(chat)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	src, err := setup.Source(ref, s.cfg, s.s3)
	if err != nil {
		sourceError(w, err)
		return
	}
	items, err := setup.ListItems(r.Context(), src, ref, sel, s.cfg.Download.FetchLimit)
	if err != nil {
		sourceError(w, err)
		return
	}

	out := make([]listedItem, len(items))
	for i, it := range items {
		out[i] = listedItem{
			ID:       it.ID,
			Name:     it.Filename,
			Kind:     it.Kind,
			Size:     it.Size,
			Topic:    setup.TopicOf(it),
			MIMEType: it.MIMEType,
		}
		if !it.Date.IsZero() {
			out[i].Date = it.Date.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chat":  ref,
		"items": out,
	})
}

// sourceError maps source failures onto HTTP statuses.
func sourceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, source.ErrUnauthorized):
		httpError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, source.ErrNotFound):
		httpError(w, http.StatusNotFound, "chat not found")
	case source.IsTransient(err):
		httpError(w, http.StatusBadGateway, "media source unavailable")
	default:
		log.Error().Err(err).Msg("Source request failed")
		httpError(w, http.StatusBadGateway, err.Error())
	}
}

// POST /api/pick
// Opens a native directory picker so a local export can be chosen as the
// chat reference.
func (s *server) handlePick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.remote() {
		httpError(w, http.StatusNotFound, "not available")
		return
	}

	path, err := s.picker()
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			respondJSON(w, http.StatusOK, map[string]any{"path": "", "canceled": true})
			return
		}
		log.Error().Err(err).Msg("Directory picker failed")
		httpError(w, http.StatusInternalServerError, "directory picker failed")
		return
	}

	log.Info().Str("path", path).Msg("Directory picked via native dialog")
	respondJSON(w, http.StatusOK, map[string]any{"path": path, "canceled": false})
}

func pickDirectory() (string, error) {
	return zenity.SelectFile(
		zenity.Directory(),
		zenity.Title("Select exported chat folder"),
	)
}

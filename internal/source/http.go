package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/media"
)

const (
	// defaultListTimeout bounds a listing call. Content fetches use the
	// caller's context only, since large videos can take minutes.
	defaultListTimeout = 30 * time.Second

	// maxErrorBody is how much of an error response is kept for the message.
	maxErrorBody = 512
)

// HTTPSource talks to a gateway service that holds the messaging-platform
// session and exposes attachments over plain HTTP:
//
//	GET {base}/items?chat=<chat>&topic=<topic>&limit=<n>   → {"items": [...]}
//	GET {base}/items/{id}/content?chat=<chat>              → raw bytes
//
// Requests carry the session token as a bearer credential.
type HTTPSource struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewHTTPSource creates a gateway client. token may be empty for gateways
// that hold their own session.
func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

type listResponse struct {
	Items []media.RawMetadata `json:"items"`
	Error string              `json:"error,omitempty"`
}

// List resolves ref with ParseRef and asks the gateway for its attachments.
func (h *HTTPSource) List(ctx context.Context, ref string, limit int) ([]media.RawMetadata, error) {
	chat, err := ParseRef(ref)
	if err != nil {
		return nil, Permanent(err)
	}

	q := url.Values{"chat": {chat.Chat}}
	if chat.Topic != "" {
		q.Set("topic", chat.Topic)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	ctx, cancel := context.WithTimeout(ctx, defaultListTimeout)
	defer cancel()

	resp, err := h.get(ctx, h.baseURL+"/items?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Transient(fmt.Errorf("decode item list: %w", err), 0)
	}
	for i := range out.Items {
		if out.Items[i].Ref == "" {
			out.Items[i].Ref = chat.Chat
		}
	}

	log.Debug().Str("chat", chat.String()).Int("count", len(out.Items)).Msg("Listed gateway source")
	return out.Items, nil
}

// Fetch streams the content of one attachment. raw.Ref is either an
// absolute URL supplied by the gateway or the chat the item belongs to.
func (h *HTTPSource) Fetch(ctx context.Context, raw media.RawMetadata) (io.ReadCloser, error) {
	target := raw.Ref
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = fmt.Sprintf("%s/items/%s/content", h.baseURL, url.PathEscape(raw.ID))
		if raw.Ref != "" {
			target += "?" + url.Values{"chat": {raw.Ref}}.Encode()
		}
	}

	resp, err := h.get(ctx, target)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// get issues a GET and classifies failures. On success the caller owns
// resp.Body.
func (h *HTTPSource) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("build request: %w", err))
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, Transient(fmt.Errorf("GET %s: %w", redact(target), err), 0)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := fmt.Errorf("GET %s: status %d: %s", redact(target), resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, Transient(statusErr, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	case resp.StatusCode == http.StatusNotFound:
		return nil, Permanent(fmt.Errorf("%w: %w", ErrNotFound, statusErr))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, statusErr))
	default:
		return nil, Permanent(statusErr)
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// redact drops the query string so chat IDs do not end up in logs verbatim.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

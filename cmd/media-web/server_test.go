package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ncruces/zenity"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/jobs"
	"github.com/fpang/media-bundler/internal/pipeline"
	"github.com/fpang/media-bundler/internal/store"
	"github.com/fpang/media-bundler/internal/transcode"
)

// newTestServer serves a directory chat named "chat" holding two files.
func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.TempDir = filepath.Join(base, "work")
	cfg.Paths.ArchiveDir = filepath.Join(base, "archives")
	cfg.Source.DirRoot = filepath.Join(base, "chats")
	cfg.Transcode.Enabled = false
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	chat := filepath.Join(cfg.Source.DirRoot, "chat")
	if err := os.MkdirAll(chat, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"a.jpg": "jpeg bytes", "b.mp3": "mp3 bytes"} {
		if err := os.WriteFile(filepath.Join(chat, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	srv := newServer(context.Background(), &cfg, store.NewMemoryStore(), transcode.NewAdapter(transcode.Unavailable("disabled"), nil, transcode.Options{}))
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		srv.shutdown()
	})
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	var body map[string]any
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSourceList(t *testing.T) {
	_, ts := newTestServer(t)

	var body struct {
		Items []listedItem `json:"items"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/sources/list?chat=chat", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Items) != 2 {
		t.Fatalf("items = %+v", body.Items)
	}

	body.Items = nil
	doJSON(t, http.MethodGet, ts.URL+"/api/sources/list?chat=chat&kind=audio", nil, &body)
	if len(body.Items) != 1 || body.Items[0].Kind != "audio" {
		t.Errorf("audio items = %+v", body.Items)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing chat", "", http.StatusBadRequest},
		{"traversal", "?chat=../etc", http.StatusBadRequest},
		{"bad kind", "?chat=chat&kind=hologram", http.StatusBadRequest},
		{"bad limit", "?chat=chat&limit=x", http.StatusBadRequest},
		{"unknown chat", "?chat=nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := doJSON(t, http.MethodGet, ts.URL+"/api/sources/list"+tt.query, nil, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestLocalBatchLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	var started struct {
		ID    string `json:"id"`
		Items int    `json:"items"`
	}
	code := doJSON(t, http.MethodPost, ts.URL+"/api/batches", batchRequest{Chat: "chat", Numbered: true}, &started)
	if code != http.StatusAccepted {
		t.Fatalf("start status = %d", code)
	}
	if !jobs.ValidID(started.ID, jobs.BatchPrefix) || started.Items != 2 {
		t.Fatalf("started = %+v", started)
	}

	// Follow the feed until the batch finishes.
	var after int64
	var seen []pipeline.Event
	for range 50 {
		var page struct {
			Events []pipeline.Event `json:"events"`
			Next   int64            `json:"next"`
			Done   bool             `json:"done"`
		}
		url := ts.URL + "/api/batches/" + started.ID + "/events?wait=true&after=" + itoa(after)
		if code := doJSON(t, http.MethodGet, url, nil, &page); code != http.StatusOK {
			t.Fatalf("events status = %d", code)
		}
		seen = append(seen, page.Events...)
		after = page.Next
		if page.Done {
			break
		}
	}
	if len(seen) == 0 {
		t.Fatal("no events observed")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Seq <= seen[i-1].Seq {
			t.Fatalf("events out of order: %d after %d", seen[i].Seq, seen[i-1].Seq)
		}
	}

	var status struct {
		Batch store.BatchRecord  `json:"batch"`
		Items []store.ItemRecord `json:"items"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/batches/"+started.ID, nil, &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Batch.Status != store.StatusComplete || status.Batch.Succeeded != 2 || len(status.Items) != 2 {
		t.Errorf("status = %+v", status)
	}

	var manifest archive.Manifest
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/batches/"+started.ID+"/manifest", nil, &manifest); code != http.StatusOK {
		t.Fatalf("manifest status = %d", code)
	}
	if manifest.ArchivedCount() != 2 {
		t.Errorf("manifest = %+v", manifest)
	}

	resp, err := http.Get(ts.URL + "/api/batches/" + started.ID + "/archive")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, started.ID) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive is not a zip: %v", err)
	}
	if len(zr.File) != 2 || !strings.HasPrefix(zr.File[0].Name, "001_") {
		names := make([]string, len(zr.File))
		for i, f := range zr.File {
			names[i] = f.Name
		}
		t.Errorf("archive entries = %v", names)
	}

	if code := doJSON(t, http.MethodGet, ts.URL+"/api/batches/"+started.ID+"/archive", nil, nil); code != http.StatusGone {
		t.Errorf("second retrieval status = %d, want 410", code)
	}
}

func TestBatchStartRejects(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		req  batchRequest
		want int
	}{
		{"missing chat", batchRequest{}, http.StatusBadRequest},
		{"traversal", batchRequest{Chat: "../etc"}, http.StatusBadRequest},
		{"bad kind", batchRequest{Chat: "chat", Kinds: []string{"gif"}}, http.StatusBadRequest},
		{"concurrency too high", batchRequest{Chat: "chat", Concurrency: 99}, http.StatusBadRequest},
		{"nothing selected", batchRequest{Chat: "chat", IDs: []string{"missing"}}, http.StatusUnprocessableEntity},
		{"unknown chat", batchRequest{Chat: "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := doJSON(t, http.MethodPost, ts.URL+"/api/batches", tt.req, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	if code := doJSON(t, http.MethodGet, ts.URL+"/api/batches", nil, nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/batches = %d", code)
	}
}

func TestBatchRoutesUnknown(t *testing.T) {
	_, ts := newTestServer(t)
	id := jobs.GenerateID(jobs.BatchPrefix)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/batches/not-an-id", http.StatusNotFound},
		{http.MethodGet, "/api/batches/" + id, http.StatusNotFound},
		{http.MethodGet, "/api/batches/" + id + "/events", http.StatusNotFound},
		{http.MethodPost, "/api/batches/" + id + "/cancel", http.StatusNotFound},
		{http.MethodGet, "/api/batches/" + id + "/archive", http.StatusNotFound},
		{http.MethodGet, "/api/batches/" + id + "/manifest", http.StatusNotFound},
		{http.MethodGet, "/api/batches/" + id + "/bogus", http.StatusNotFound},
		{http.MethodGet, "/api/batches/" + id + "/cancel", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if code := doJSON(t, tt.method, ts.URL+tt.path, nil, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRemoteBatchDispatch(t *testing.T) {
	srv, ts := newTestServer(t)

	var dispatched []jobs.BundleEvent
	fail := false
	srv.dispatch = func(_ context.Context, ev jobs.BundleEvent) error {
		if fail {
			return errors.New("throttled")
		}
		dispatched = append(dispatched, ev)
		return nil
	}

	var started struct {
		ID string `json:"id"`
	}
	req := batchRequest{Chat: "chat", Kinds: []string{"photo"}, Concurrency: 2}
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/batches", req, &started); code != http.StatusAccepted {
		t.Fatalf("start status = %d", code)
	}
	if len(dispatched) != 1 || dispatched[0].BatchID != started.ID || dispatched[0].Concurrency != 2 || dispatched[0].Kinds[0] != "photo" {
		t.Fatalf("dispatched = %+v", dispatched)
	}
	rec, _ := srv.store.GetBatch(context.Background(), started.ID)
	if rec == nil || rec.Status != store.StatusQueued {
		t.Fatalf("record = %+v", rec)
	}

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/batches/"+started.ID+"/cancel", nil, nil); code != http.StatusConflict {
		t.Errorf("cancel status = %d, want 409", code)
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/batches/"+started.ID+"/archive", nil, nil); code != http.StatusNotFound {
		t.Errorf("archive before completion = %d, want 404", code)
	}

	fail = true
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/batches", req, &started); code != http.StatusBadGateway {
		t.Fatalf("failed dispatch status = %d", code)
	}
}

func TestRemoteArchiveRedirect(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.dispatch = func(context.Context, jobs.BundleEvent) error { return nil }

	id := jobs.GenerateID(jobs.BatchPrefix)
	srv.store.PutBatch(context.Background(), &store.BatchRecord{
		ID:          id,
		Status:      store.StatusComplete,
		ArchiveURL:  "https://bucket.example.com/archives/x.zip",
		ArchiveSize: 10,
	})
	srv.store.PutItems(context.Background(), id, []store.ItemRecord{
		{Index: 0, ID: "1", Name: "a.jpg", Status: "Finalized", Outcome: "Downloaded", Archived: true},
		{Index: 1, ID: "2", Name: "b.mp4", Status: "Finalized", Outcome: "DownloadFailed", Reason: "HTTP 404"},
	})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(ts.URL + "/api/batches/" + id + "/archive")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "https://bucket.example.com/archives/x.zip" {
		t.Errorf("redirect = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	var m archive.Manifest
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/batches/"+id+"/manifest", nil, &m); code != http.StatusOK {
		t.Fatalf("manifest status = %d", code)
	}
	if len(m.Entries) != 2 || m.Entries[1].Status != "DownloadFailed" || m.ArchivedCount() != 1 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestPick(t *testing.T) {
	srv, ts := newTestServer(t)

	srv.picker = func() (string, error) { return "/exports/family", nil }
	var body map[string]any
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/pick", nil, &body); code != http.StatusOK || body["path"] != "/exports/family" {
		t.Errorf("pick = %d %v", code, body)
	}

	srv.picker = func() (string, error) { return "", zenity.ErrCanceled }
	body = nil
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/pick", nil, &body); code != http.StatusOK || body["canceled"] != true {
		t.Errorf("canceled pick = %d %v", code, body)
	}
}

func TestOriginVerify(t *testing.T) {
	h := withOriginVerify("s3cret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		path   string
		header string
		want   int
	}{
		{"/api/health", "", http.StatusNoContent},
		{"/api/batches", "", http.StatusForbidden},
		{"/api/batches", "wrong", http.StatusForbidden},
		{"/api/batches", "s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("x-origin-verify", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestContainsPathTraversal(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"chat", false},
		{"exports/family", false},
		{"../etc", true},
		{"a/../../b", true},
		{"a..b", false},
	}
	for _, tt := range tests {
		if got := containsPathTraversal(tt.in); got != tt.want {
			t.Errorf("containsPathTraversal(%q) = %v", tt.in, got)
		}
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/jobs"
	"github.com/fpang/media-bundler/internal/store"
	"github.com/fpang/media-bundler/internal/transcode"
)

type stubS3 struct {
	keys []string
	body []byte
	err  error
}

func (s *stubS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.keys = append(s.keys, *in.Key)
	s.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (s *stubS3) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example.com/" + *in.Key}, nil
}

type stubEvents struct {
	inputs []*eventbridge.PutEventsInput
}

func (s *stubEvents) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	s.inputs = append(s.inputs, in)
	return &eventbridge.PutEventsOutput{}, nil
}

func newTestBundler(t *testing.T) (*bundler, *stubS3, *stubEvents) {
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

	up := &stubS3{}
	ev := &stubEvents{}
	return &bundler{
		cfg:     &cfg,
		store:   store.NewMemoryStore(),
		adapter: transcode.NewAdapter(transcode.Unavailable("disabled"), nil, transcode.Options{}),
		publisher: &archive.S3Publisher{
			Client:    up,
			Presigner: up,
			Bucket:    "media",
			Prefix:    "archives",
		},
		events: ev,
		bus:    "media-bus",
	}, up, ev
}

func queue(t *testing.T, b *bundler, ev jobs.BundleEvent) {
	t.Helper()
	if err := b.store.PutBatch(context.Background(), &store.BatchRecord{ID: ev.BatchID, SourceRef: ev.Chat, Status: store.StatusQueued}); err != nil {
		t.Fatal(err)
	}
}

func TestRunPublishesArchive(t *testing.T) {
	b, up, events := newTestBundler(t)
	ev := jobs.BundleEvent{BatchID: jobs.GenerateID(jobs.BatchPrefix), Chat: "chat", Concurrency: 2}
	queue(t, b, ev)

	if err := b.run(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	rec, _ := b.store.GetBatch(context.Background(), ev.BatchID)
	if rec.Status != store.StatusComplete || rec.Succeeded != 2 || len(rec.ItemIDs) != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if len(up.keys) != 1 || !strings.HasPrefix(up.keys[0], "archives/"+ev.BatchID+"/") || len(up.body) == 0 {
		t.Fatalf("uploads = %v", up.keys)
	}
	if rec.ArchiveKey != up.keys[0] || rec.ArchiveURL != "https://bucket.example.com/"+up.keys[0] {
		t.Errorf("archive location = %q %q", rec.ArchiveKey, rec.ArchiveURL)
	}
	items, _ := b.store.GetItems(context.Background(), ev.BatchID)
	if len(items) != 2 {
		t.Errorf("items = %+v", items)
	}

	if len(events.inputs) != 1 {
		t.Fatalf("events = %d", len(events.inputs))
	}
	entry := events.inputs[0].Entries[0]
	if *entry.EventBusName != "media-bus" || !strings.Contains(*entry.Detail, ev.BatchID) {
		t.Errorf("event = %+v", entry)
	}

	left, _ := os.ReadDir(b.cfg.Paths.ArchiveDir)
	if len(left) != 0 {
		t.Errorf("local archive not removed: %d entries", len(left))
	}

	// A redelivered event for a finished batch does nothing.
	if err := b.run(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(up.keys) != 1 {
		t.Errorf("duplicate delivery uploaded again")
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		chat    string
		kinds   []string
		putErr  error
		wantErr string
	}{
		{"unknown chat", "missing", nil, nil, "not found"},
		{"empty selection", "chat", []string{"video"}, nil, "no media matched"},
		{"upload", "chat", nil, errors.New("access denied"), "access denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, up, _ := newTestBundler(t)
			up.err = tt.putErr
			ev := jobs.BundleEvent{BatchID: jobs.GenerateID(jobs.BatchPrefix), Chat: tt.chat, Kinds: tt.kinds}
			queue(t, b, ev)

			if err := b.run(context.Background(), ev); err != nil {
				t.Fatalf("run returned %v, failures are recorded instead", err)
			}
			rec, _ := b.store.GetBatch(context.Background(), ev.BatchID)
			if rec.Status != store.StatusFailed || !strings.Contains(rec.Error, tt.wantErr) {
				t.Errorf("record = %+v", rec)
			}
		})
	}
}

func TestRunRejectsMalformedID(t *testing.T) {
	b, up, _ := newTestBundler(t)
	if err := b.run(context.Background(), jobs.BundleEvent{BatchID: "nope", Chat: "chat"}); err != nil {
		t.Fatal(err)
	}
	if len(up.keys) != 0 {
		t.Error("malformed batch should not run")
	}
}

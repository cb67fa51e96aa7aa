package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fpang/media-bundler/internal/auth"
	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/pipeline"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{65 * time.Second, "1:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatSizeAndSpeed(t *testing.T) {
	if got := FormatSize(0); got != "?" {
		t.Errorf("FormatSize(0) = %q", got)
	}
	if got := FormatSize(1500000); got != "1.5 MB" {
		t.Errorf("FormatSize(1500000) = %q", got)
	}
	if got := FormatSpeed(2000000, 2*time.Second); got != "1.0 MB/s" {
		t.Errorf("FormatSpeed = %q", got)
	}
	if got := FormatSpeed(100, 0); got != "0 B/s" {
		t.Errorf("FormatSpeed zero duration = %q", got)
	}
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"Name", "Size"}, [][]string{{"clip.mp4", "1.5 MB"}, {"short"}}, []Alignment{AlignLeft, AlignRight})
	for _, want := range []string{"Name", "Size", "clip.mp4", "1.5 MB", "short"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "NAME") || strings.Contains(out, "SIZE") {
		t.Errorf("headers were upper-cased:\n%s", out)
	}
	if RenderTable(nil, nil, nil) != "" {
		t.Error("empty headers should render nothing")
	}
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	if got := Prompt(strings.NewReader("  @chan \n"), &out, "Chat", ""); got != "@chan" {
		t.Errorf("Prompt = %q", got)
	}
	if !strings.Contains(out.String(), "Chat: ") {
		t.Errorf("prompt text = %q", out.String())
	}
	if got := Prompt(strings.NewReader("\n"), &out, "Chat", "@default"); got != "@default" {
		t.Errorf("empty answer = %q", got)
	}
	if got := Prompt(strings.NewReader(""), &out, "Chat", "@eof"); got != "@eof" {
		t.Errorf("EOF answer = %q", got)
	}
}

func TestValidationMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&auth.ValidationError{Type: auth.ErrTypeNoToken}, auth.TokenEnv},
		{&auth.ValidationError{Type: auth.ErrTypeInvalidToken}, "rejected"},
		{&auth.ValidationError{Type: auth.ErrTypeNetworkError}, "Network"},
		{&auth.ValidationError{Type: auth.ErrTypeNotFound}, "not found"},
		{errors.New("other"), "unexpected"},
	}
	for _, tt := range tests {
		if got := ValidationMessage(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("ValidationMessage(%v) = %q, want mention of %q", tt.err, got, tt.want)
		}
	}
}

func TestBatchProgress(t *testing.T) {
	p := NewBatchProgress(&bytes.Buffer{}, 2, false)
	events := []pipeline.Event{
		{Index: 0, From: media.StatusPending, To: media.StatusDownloading},
		{Index: 0, From: media.StatusDownloading, To: media.StatusDownloading, Bytes: 10},
		{Index: 0, From: media.StatusDownloading, To: media.StatusDownloaded, Bytes: 100},
		{Index: 0, From: media.StatusDownloaded, To: media.StatusFinalized},
		{Index: 1, From: media.StatusDownloading, To: media.StatusDownloadFailed},
		{Index: 1, From: media.StatusDownloadFailed, To: media.StatusFinalized},
	}
	for _, ev := range events {
		p.Publish(ev)
	}
	done, n := p.Finish()
	if done != 2 || n != 100 {
		t.Errorf("Finish = (%d, %d), want (2, 100)", done, n)
	}
}

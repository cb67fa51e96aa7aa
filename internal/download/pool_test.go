package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/source"
)

// fakeSource serves content by item ID and can inject failures.
type fakeSource struct {
	mu       sync.Mutex
	content  map[string]string
	failures map[string][]error // consumed one per Fetch
	calls    map[string]int
	delay    time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeSource(content map[string]string) *fakeSource {
	return &fakeSource{content: content, failures: map[string][]error{}, calls: map[string]int{}}
}

func (f *fakeSource) List(ctx context.Context, ref string, limit int) ([]media.RawMetadata, error) {
	return nil, nil
}

func (f *fakeSource) Fetch(ctx context.Context, raw media.RawMetadata) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls[raw.ID]++
	var err error
	if errs := f.failures[raw.ID]; len(errs) > 0 {
		err, f.failures[raw.ID] = errs[0], errs[1:]
	}
	body, ok := f.content[raw.ID]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, source.Permanent(source.ErrNotFound)
	}

	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &trackedReader{Reader: strings.NewReader(body), done: func() { f.active.Add(-1) }}, nil
}

type trackedReader struct {
	io.Reader
	once sync.Once
	done func()
}

func (r *trackedReader) Close() error {
	r.once.Do(r.done)
	return nil
}

func jobsFor(t *testing.T, ids ...string) []Job {
	t.Helper()
	dir := t.TempDir()
	jobs := make([]Job, len(ids))
	for i, id := range ids {
		jobs[i] = Job{
			Index: i,
			Item:  media.Item{ID: id, Filename: id + ".bin"},
			Path:  filepath.Join(dir, fmt.Sprintf("%03d.part", i)),
		}
	}
	return jobs
}

// collect drains updates until the returned stop func is called.
func collect(updates chan Update) (stop func() []Update) {
	var got []Update
	done := make(chan struct{})
	go func() {
		for u := range updates {
			got = append(got, u)
		}
		close(done)
	}()
	return func() []Update {
		close(updates)
		<-done
		return got
	}
}

func TestRunDownloadsAll(t *testing.T) {
	src := newFakeSource(map[string]string{"a": "alpha", "b": "bravo!", "c": "c"})
	jobs := jobsFor(t, "a", "b", "c")

	updates := make(chan Update)
	stop := collect(updates)
	results, err := New(src, Options{Limit: 2}).Run(context.Background(), jobs, updates)
	events := stop()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, res := range results {
		if res.Status != media.StatusDownloaded {
			t.Errorf("results[%d].Status = %s (%v)", i, res.Status, res.Err)
		}
		data, err := os.ReadFile(jobs[i].Path)
		if err != nil || string(data) != src.content[jobs[i].Item.ID] {
			t.Errorf("file %d = %q, %v", i, data, err)
		}
		if res.Bytes != int64(len(data)) {
			t.Errorf("Bytes = %d, want %d", res.Bytes, len(data))
		}
	}

	perItem := map[int][]media.Status{}
	for _, u := range events {
		perItem[u.Index] = append(perItem[u.Index], u.Status)
	}
	for i := range jobs {
		seq := perItem[i]
		if len(seq) < 2 || seq[0] != media.StatusDownloading || seq[len(seq)-1] != media.StatusDownloaded {
			t.Errorf("item %d updates = %v", i, seq)
		}
	}
}

func TestRunNeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			content := map[string]string{}
			ids := make([]string, 12)
			for i := range ids {
				ids[i] = fmt.Sprintf("i%d", i)
				content[ids[i]] = "x"
			}
			src := newFakeSource(content)
			src.delay = 5 * time.Millisecond

			updates := make(chan Update, 100)
			stop := collect(updates)
			_, err := New(src, Options{Limit: limit}).Run(context.Background(), jobsFor(t, ids...), updates)
			events := stop()
			if err != nil {
				t.Fatal(err)
			}

			if got := src.maxActive.Load(); int(got) > limit {
				t.Errorf("max concurrent fetches = %d, limit %d", got, limit)
			}

			// Replay the update stream: Downloading count must stay <= limit.
			inFlight, peak := 0, 0
			for _, u := range events {
				switch u.Status {
				case media.StatusDownloading:
					if u.Progress == -1 || u.Progress == 0 {
						inFlight++
					}
				case media.StatusDownloaded, media.StatusDownloadFailed:
					inFlight--
				}
				if inFlight > peak {
					peak = inFlight
				}
			}
			if peak > limit {
				t.Errorf("peak Downloading = %d, limit %d", peak, limit)
			}
		})
	}
}

func TestRunFailureIsolation(t *testing.T) {
	src := newFakeSource(map[string]string{"1": "a", "2": "b", "4": "d", "5": "e"})
	src.failures["3"] = []error{source.Permanent(errors.New("forbidden"))}

	updates := make(chan Update, 64)
	stop := collect(updates)
	results, err := New(src, Options{Limit: 2}).Run(context.Background(), jobsFor(t, "1", "2", "3", "4", "5"), updates)
	stop()
	if err != nil {
		t.Fatal(err)
	}

	for _, res := range results {
		want := media.StatusDownloaded
		if res.ItemID == "3" {
			want = media.StatusDownloadFailed
		}
		if res.Status != want {
			t.Errorf("item %s = %s, want %s", res.ItemID, res.Status, want)
		}
	}
	if src.calls["3"] != 1 {
		t.Errorf("permanent failure fetched %d times, want 1", src.calls["3"])
	}
	if results[2].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", results[2].Attempts)
	}
}

func TestRunRetriesTransientOnce(t *testing.T) {
	tests := []struct {
		name       string
		failures   []error
		wantStatus media.Status
		wantCalls  int
		wantWait   time.Duration
	}{
		{
			name:       "recovers on retry",
			failures:   []error{source.Transient(errors.New("timeout"), 0)},
			wantStatus: media.StatusDownloaded,
			wantCalls:  2,
			wantWait:   10 * time.Millisecond,
		},
		{
			name:       "unclassified counts as transient",
			failures:   []error{errors.New("connection reset")},
			wantStatus: media.StatusDownloaded,
			wantCalls:  2,
			wantWait:   10 * time.Millisecond,
		},
		{
			name:       "honors retry-after up to cap",
			failures:   []error{source.Transient(errors.New("429"), time.Hour)},
			wantStatus: media.StatusDownloaded,
			wantCalls:  2,
			wantWait:   time.Second,
		},
		{
			name: "fails after second transient",
			failures: []error{
				source.Transient(errors.New("timeout"), 0),
				source.Transient(errors.New("timeout"), 0),
			},
			wantStatus: media.StatusDownloadFailed,
			wantCalls:  2,
			wantWait:   10 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(map[string]string{"a": "payload"})
			src.failures["a"] = tt.failures

			var waited []time.Duration
			pool := New(src, Options{Limit: 1, RetryDelay: 10 * time.Millisecond, MaxRetryWait: time.Second})
			pool.sleep = func(ctx context.Context, d time.Duration) error {
				waited = append(waited, d)
				return nil
			}

			updates := make(chan Update, 16)
			stop := collect(updates)
			results, _ := pool.Run(context.Background(), jobsFor(t, "a"), updates)
			stop()

			if results[0].Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s (%v)", results[0].Status, tt.wantStatus, results[0].Err)
			}
			if src.calls["a"] != tt.wantCalls {
				t.Errorf("calls = %d, want %d", src.calls["a"], tt.wantCalls)
			}
			if len(waited) != 1 || waited[0] != tt.wantWait {
				t.Errorf("waited = %v, want [%v]", waited, tt.wantWait)
			}
		})
	}
}

func TestRunIncompleteDownload(t *testing.T) {
	src := newFakeSource(map[string]string{"a": "short"})
	jobs := jobsFor(t, "a")
	jobs[0].Item.Size = 1000

	pool := New(src, Options{Limit: 1})
	pool.sleep = func(context.Context, time.Duration) error { return nil }

	updates := make(chan Update, 16)
	stop := collect(updates)
	results, _ := pool.Run(context.Background(), jobs, updates)
	stop()

	if results[0].Status != media.StatusDownloadFailed {
		t.Fatalf("Status = %s, want DownloadFailed", results[0].Status)
	}
	if !strings.Contains(results[0].Err.Error(), "incomplete download") {
		t.Errorf("Err = %v", results[0].Err)
	}
	if src.calls["a"] != 2 {
		t.Errorf("incomplete download should be retried once, calls = %d", src.calls["a"])
	}
	if _, err := os.Stat(jobs[0].Path); !os.IsNotExist(err) {
		t.Error("partial file not removed")
	}
}

func TestRunCancelStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(map[string]string{"1": "a", "2": "b", "3": "c", "4": "d"})
	cancelling := &cancelOnRead{Source: src, id: "1", cancel: cancel}

	updates := make(chan Update, 16)
	stop := collect(updates)
	results, err := New(cancelling, Options{Limit: 1}).Run(ctx, jobsFor(t, "1", "2", "3", "4"), updates)
	stop()
	if err != nil {
		t.Fatalf("cancellation is not batch-fatal: %v", err)
	}

	if results[0].Status != media.StatusDownloaded {
		t.Errorf("item 1 = %s, want Downloaded", results[0].Status)
	}
	for _, res := range results[1:] {
		if res.Status != media.StatusPending {
			t.Errorf("item %s = %s, want Pending", res.ItemID, res.Status)
		}
		if src.calls[res.ItemID] != 0 {
			t.Errorf("item %s was fetched after cancel", res.ItemID)
		}
	}
}

// cancelOnRead cancels the batch once item id has been fully read.
type cancelOnRead struct {
	source.Source
	id     string
	cancel context.CancelFunc
}

func (c *cancelOnRead) Fetch(ctx context.Context, raw media.RawMetadata) (io.ReadCloser, error) {
	rc, err := c.Source.Fetch(ctx, raw)
	if err != nil || raw.ID != c.id {
		return rc, err
	}
	return &eofHook{ReadCloser: rc, hook: c.cancel}, nil
}

type eofHook struct {
	io.ReadCloser
	hook func()
}

func (e *eofHook) Read(p []byte) (int, error) {
	n, err := e.ReadCloser.Read(p)
	if err == io.EOF {
		e.hook()
	}
	return n, err
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

func TestCopyStreamClassifiesErrors(t *testing.T) {
	prog := newProgress(0, 5, func(int, int64) {})

	_, err := copyStream(failingWriter{err: syscall.ENOSPC}, strings.NewReader("x"), prog)
	if !errors.Is(err, ErrStorageExhausted) {
		t.Errorf("ENOSPC err = %v, want ErrStorageExhausted", err)
	}

	_, err = copyStream(failingWriter{err: syscall.EIO}, strings.NewReader("x"), prog)
	if source.IsTransient(err) || errors.Is(err, ErrStorageExhausted) {
		t.Errorf("local write err = %v, want permanent item failure", err)
	}

	_, err = copyStream(io.Discard, io.MultiReader(strings.NewReader("ab"), errReader{}), prog)
	if !source.IsTransient(err) {
		t.Errorf("read err = %v, want transient", err)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("unexpected EOF") }

func TestProgressThrottles(t *testing.T) {
	var got []int
	p := newProgress(100, 25, func(pct int, _ int64) { got = append(got, pct) })
	for i := 0; i < 100; i++ {
		p.add(1)
	}
	want := []int{25, 50, 75}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("progress = %v, want %v", got, want)
	}
}

func TestRetryWait(t *testing.T) {
	p := New(nil, Options{RetryDelay: time.Second, MaxRetryWait: 5 * time.Second})
	tests := []struct {
		err  error
		want time.Duration
	}{
		{errors.New("x"), time.Second},
		{source.Transient(errors.New("x"), 3*time.Second), 3 * time.Second},
		{source.Transient(errors.New("x"), time.Minute), 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.retryWait(tt.err); got != tt.want {
			t.Errorf("retryWait(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

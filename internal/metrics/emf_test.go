package metrics

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

// capture redirects output for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(io.Discard) })
	return &buf
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "bundle-lambda"
	t.Cleanup(func() { functionName = "" })

	r := New(Namespace)
	if r.namespace != Namespace {
		t.Errorf("namespace = %s, want %s", r.namespace, Namespace)
	}
	if r.dimensions["FunctionName"] != "bundle-lambda" {
		t.Errorf("FunctionName = %s, want bundle-lambda", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	functionName = ""
	buf := capture(t)

	New(Namespace).
		Dimension("Operation", "download").
		Metric("DownloadMs", 1234.5, UnitMilliseconds).
		Count("Downloads").
		Property("batch", "b-1").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}

	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := aws["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cw, ok := aws["CloudWatchMetrics"].([]any)
	if !ok || len(cw) != 1 {
		t.Fatalf("CloudWatchMetrics = %v", aws["CloudWatchMetrics"])
	}
	if ns := cw[0].(map[string]any)["Namespace"]; ns != Namespace {
		t.Errorf("Namespace = %v", ns)
	}
	if doc["Operation"] != "download" {
		t.Errorf("Operation = %v", doc["Operation"])
	}
	if doc["DownloadMs"] != 1234.5 || doc["Downloads"] != float64(1) {
		t.Errorf("metric values = %v / %v", doc["DownloadMs"], doc["Downloads"])
	}
	if doc["batch"] != "b-1" {
		t.Errorf("batch = %v", doc["batch"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := capture(t)
	New("Test").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}

func TestRecorder_DiscardByDefault(t *testing.T) {
	New("Test").Count("X").Flush() // must not panic or print
}

func TestRecordBatch(t *testing.T) {
	functionName = ""
	buf := capture(t)

	RecordBatch(BatchSummary{Source: "s3://b/p", Items: 5, Succeeded: 3, Failed: 1, Skipped: 1, Bytes: 2048, Duration: time.Second, Cancelled: true})

	line := strings.TrimSpace(buf.String())
	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	checks := map[string]float64{
		"BatchItems":     5,
		"BatchSucceeded": 3,
		"BatchFailed":    1,
		"BatchSkipped":   1,
		"BatchBytes":     2048,
		"BatchMs":        1000,
		"BatchCancelled": 1,
	}
	for k, want := range checks {
		if doc[k] != want {
			t.Errorf("%s = %v, want %v", k, doc[k], want)
		}
	}
	if doc["source"] != "s3://b/p" {
		t.Errorf("source = %v", doc["source"])
	}
}

func TestRecorder_Chaining(t *testing.T) {
	functionName = ""
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != 100 || rec.values["Calls"] != 1 {
		t.Error("chaining Metric/Count failed")
	}
	if rec.metrics["Calls"].Unit != UnitCount {
		t.Errorf("Calls unit = %s", rec.metrics["Calls"].Unit)
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}

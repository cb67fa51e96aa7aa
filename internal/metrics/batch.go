package metrics

import "time"

// BatchSummary is the per-batch rollup emitted when a batch finishes.
type BatchSummary struct {
	Source    string
	Items     int
	Succeeded int
	Failed    int
	Skipped   int
	Bytes     int64
	Duration  time.Duration
	Cancelled bool
}

// RecordBatch emits one EMF document for a finished batch.
func RecordBatch(s BatchSummary) {
	r := New(Namespace).
		Dimension("Operation", "batch").
		Metric("BatchItems", float64(s.Items), UnitCount).
		Metric("BatchSucceeded", float64(s.Succeeded), UnitCount).
		Metric("BatchFailed", float64(s.Failed), UnitCount).
		Metric("BatchSkipped", float64(s.Skipped), UnitCount).
		Metric("BatchBytes", float64(s.Bytes), UnitBytes).
		Metric("BatchMs", float64(s.Duration.Milliseconds()), UnitMilliseconds).
		Property("source", s.Source)
	if s.Cancelled {
		r.Count("BatchCancelled")
	}
	r.Flush()
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/pipeline"
)

type stubEvents struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
	err    error
}

func (s *stubEvents) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return nil, s.err
	}
	if s.out != nil {
		return s.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func sampleEvent() BatchCompleted {
	res := &pipeline.BatchResult{
		BatchID:   "batch-1",
		Succeeded: 4,
		Failed:    1,
		Archive:   &archive.Handle{Size: 2048},
		Duration:  1500 * time.Millisecond,
	}
	return NewBatchCompleted("@chan", res, nil)
}

func TestNewBatchCompleted(t *testing.T) {
	ev := sampleEvent()
	if ev.BatchID != "batch-1" || ev.Succeeded != 4 || ev.Failed != 1 || ev.ArchiveSize != 2048 || ev.DurationMs != 1500 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Error != "" {
		t.Errorf("unexpected error field %q", ev.Error)
	}

	failed := NewBatchCompleted("@chan", &pipeline.BatchResult{BatchID: "b"}, errors.New("assembly failed"))
	if failed.Error != "assembly failed" || failed.ArchiveSize != 0 {
		t.Errorf("failed event = %+v", failed)
	}
}

func TestEmitBatchCompleted(t *testing.T) {
	stub := &stubEvents{}
	if err := EmitBatchCompleted(context.Background(), stub, "media-bus", sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if len(stub.inputs) != 1 || len(stub.inputs[0].Entries) != 1 {
		t.Fatalf("PutEvents calls = %d", len(stub.inputs))
	}
	entry := stub.inputs[0].Entries[0]
	if aws.ToString(entry.Source) != Source || aws.ToString(entry.DetailType) != DetailTypeBatchCompleted || aws.ToString(entry.EventBusName) != "media-bus" {
		t.Errorf("entry = %+v", entry)
	}
	var detail BatchCompleted
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.BatchID != "batch-1" || detail.SourceRef != "@chan" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestEmitBatchCompletedFailures(t *testing.T) {
	if err := EmitBatchCompleted(context.Background(), nil, "", sampleEvent()); err != nil {
		t.Errorf("nil client: %v", err)
	}

	stub := &stubEvents{err: errors.New("throttled")}
	if err := EmitBatchCompleted(context.Background(), stub, "", sampleEvent()); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("err = %v", err)
	}
	if stub.inputs[0].Entries[0].EventBusName != nil {
		t.Error("empty bus should use the default bus")
	}

	stub = &stubEvents{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []eventbridgetypes.PutEventsResultEntry{
			{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("try again")},
		},
	}}
	if err := EmitBatchCompleted(context.Background(), stub, "", sampleEvent()); err == nil || !strings.Contains(err.Error(), "InternalFailure") {
		t.Errorf("err = %v", err)
	}
}

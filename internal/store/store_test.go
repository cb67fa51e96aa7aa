package store

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/pipeline"
)

// fakeDynamo keeps items in a map keyed by PK and SK.
type fakeDynamo struct {
	items      map[string]map[string]types.AttributeValue
	batchCalls int
	updates    []*dynamodb.UpdateItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyString(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value + "|" + item["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[keyString(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyString(in.Key)]}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if item, ok := f.items[keyString(in.Key)]; ok {
		item["status"] = in.ExpressionAttributeValues[":s"]
		item["error"] = in.ExpressionAttributeValues[":e"]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, pk+"|") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchCalls++
	for _, reqs := range in.RequestItems {
		if len(reqs) > maxBatchWrite {
			panic("batch too large")
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				f.items[keyString(r.PutRequest.Item)] = r.PutRequest.Item
			case r.DeleteRequest != nil:
				delete(f.items, keyString(r.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func sampleResult(n int) *pipeline.BatchResult {
	res := &pipeline.BatchResult{BatchID: "b1", Archive: &archive.Handle{Size: 99}}
	for i := range n {
		res.Items = append(res.Items, pipeline.ItemDetail{
			Index:    i,
			ID:       "id" + string(rune('a'+i%26)),
			Name:     "file.jpg",
			Kind:     media.KindPhoto,
			Status:   media.StatusFinalized,
			Outcome:  media.StatusDownloaded,
			Archived: true,
		})
		res.Succeeded++
	}
	return res
}

func TestBatchStores(t *testing.T) {
	fake := newFakeDynamo()
	stores := map[string]BatchStore{
		"dynamo": NewDynamoStore(fake, "batches"),
		"memory": NewMemoryStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if got, err := s.GetBatch(ctx, "missing"); got != nil || err != nil {
				t.Fatalf("GetBatch(missing) = %v, %v", got, err)
			}

			rec := &BatchRecord{ID: "b1", SourceRef: "@chan", Status: StatusQueued, ItemIDs: []string{"x", "y"}, Concurrency: 3}
			if err := s.PutBatch(ctx, rec); err != nil {
				t.Fatal(err)
			}
			if rec.CreatedAt == 0 {
				t.Error("CreatedAt not set")
			}

			got, err := s.GetBatch(ctx, "b1")
			if err != nil || got == nil {
				t.Fatalf("GetBatch = %v, %v", got, err)
			}
			if got.ID != "b1" || got.SourceRef != "@chan" || len(got.ItemIDs) != 2 || got.Concurrency != 3 {
				t.Errorf("round trip = %+v", got)
			}

			if err := s.UpdateBatchStatus(ctx, "b1", StatusFailed, "disk full"); err != nil {
				t.Fatal(err)
			}
			got, _ = s.GetBatch(ctx, "b1")
			if got.Status != StatusFailed || got.Error != "disk full" {
				t.Errorf("after update = %+v", got)
			}

			items := rec.ApplyResult(sampleResult(30))
			if rec.Status != StatusComplete || rec.Succeeded != 30 || rec.ArchiveSize != 99 {
				t.Errorf("ApplyResult = %+v", rec)
			}
			if err := s.PutItems(ctx, "b1", items); err != nil {
				t.Fatal(err)
			}
			back, err := s.GetItems(ctx, "b1")
			if err != nil || len(back) != 30 {
				t.Fatalf("GetItems = %d, %v", len(back), err)
			}
			for i, it := range back {
				if it.Index != i || it.Outcome != string(media.StatusDownloaded) || !it.Archived {
					t.Fatalf("item %d = %+v", i, it)
				}
			}

			if err := s.DeleteBatch(ctx, "b1"); err != nil {
				t.Fatal(err)
			}
			if got, _ := s.GetBatch(ctx, "b1"); got != nil {
				t.Error("batch survived delete")
			}
			if back, _ := s.GetItems(ctx, "b1"); len(back) != 0 {
				t.Errorf("%d items survived delete", len(back))
			}
		})
	}

	if fake.batchCalls < 4 {
		t.Errorf("expected chunked BatchWriteItem calls, got %d", fake.batchCalls)
	}
}

func TestApplyResultCancelled(t *testing.T) {
	rec := &BatchRecord{ID: "b"}
	res := sampleResult(1)
	res.Cancelled = true
	res.Archive = nil
	rec.ApplyResult(res)
	if rec.Status != StatusCancelled || rec.ArchiveSize != 0 {
		t.Errorf("rec = %+v", rec)
	}
}

func TestItemSKOrder(t *testing.T) {
	if itemSK(3) != "ITEM#00003" || !(itemSK(9) < itemSK(10)) {
		t.Errorf("itemSK = %q", itemSK(3))
	}
}

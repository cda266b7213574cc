package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/primoia/log-watcher/internal/auth"
	"github.com/primoia/log-watcher/internal/contract"
	"github.com/primoia/log-watcher/internal/queue"
)

func newTestGateway(t *testing.T, capacity int) (*Gateway, queue.Queue) {
	t.Helper()
	authSvc := auth.New(zerolog.Nop())
	if _, err := authSvc.Register(auth.RegistrationSpec{
		ServiceName: "svc1",
		APIKey:      "svc1-key",
		RateLimit:   10,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	q := queue.NewMemory(capacity)
	t.Cleanup(func() { q.Close() })
	validator := contract.NewValidator(contract.Options{})
	return New(authSvc, validator, q, zerolog.Nop()), q
}

func eventBody(service string) []byte {
	return []byte(`{"service_name":"` + service + `","level":"INFO","message":"hello"}`)
}

func batchBody(service string, n int) []byte {
	logs := make([]string, n)
	for i := range logs {
		logs[i] = `{"level":"INFO","message":"m"}`
	}
	return []byte(`{"batch_id":"b-1","service_name":"` + service + `","logs":[` + strings.Join(logs, ",") + `]}`)
}

func TestIngestSingle_Accepted(t *testing.T) {
	g, q := newTestGateway(t, 8)
	ack, err := g.IngestSingle(context.Background(), "svc1-key", eventBody("svc1"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ack.LogID == "" {
		t.Error("no log_id assigned")
	}
	if ack.AcceptedAt.IsZero() {
		t.Error("no accepted_at")
	}

	item, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if item.Class != queue.ClassSingle {
		t.Errorf("class = %q", item.Class)
	}
	if len(item.Events) != 1 || item.Events[0].ID != ack.LogID {
		t.Errorf("queued item = %+v", item)
	}
}

func TestIngestSingle_RejectionsLeaveQueueEmpty(t *testing.T) {
	g, q := newTestGateway(t, 8)
	ctx := context.Background()

	if _, err := g.IngestSingle(ctx, "wrong-key", eventBody("svc1")); !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("bad key: %v", err)
	}

	var verr *contract.ValidationError
	if _, err := g.IngestSingle(ctx, "svc1-key", []byte(`{"service_name":"svc1","level":"INFO"}`)); !errors.As(err, &verr) {
		t.Errorf("invalid payload: %v", err)
	}

	// The key belongs to svc1; a payload claiming another service is a
	// contract violation, not a quota problem.
	if _, err := g.IngestSingle(ctx, "svc1-key", eventBody("svc2")); !errors.As(err, &verr) {
		t.Errorf("foreign service: %v", err)
	} else if verr.Field != "service_name" {
		t.Errorf("field = %q", verr.Field)
	}

	if depths := q.Depths(); depths.Single != 0 || depths.Batch != 0 {
		t.Errorf("rejected requests reached the queue: %+v", depths)
	}
}

func TestIngestSingle_RateLimited(t *testing.T) {
	g, q := newTestGateway(t, 32)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := g.IngestSingle(ctx, "svc1-key", eventBody("svc1")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	if _, err := g.IngestSingle(ctx, "svc1-key", eventBody("svc1")); !errors.Is(err, auth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if depths := q.Depths(); depths.Single != 10 {
		t.Errorf("queued = %d, want 10", depths.Single)
	}
}

func TestIngestSingle_QueueFull(t *testing.T) {
	g, _ := newTestGateway(t, 1)
	ctx := context.Background()

	if _, err := g.IngestSingle(ctx, "svc1-key", eventBody("svc1")); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := g.IngestSingle(ctx, "svc1-key", eventBody("svc1")); !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestIngestBatch_Accepted(t *testing.T) {
	g, q := newTestGateway(t, 8)
	ack, err := g.IngestBatch(context.Background(), "svc1-key", batchBody("svc1", 3))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ack.BatchID != "b-1" || ack.TotalLogs != 3 || len(ack.LogIDs) != 3 {
		t.Errorf("ack = %+v", ack)
	}

	item, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if item.Class != queue.ClassBatch || item.BatchID != "b-1" {
		t.Errorf("item header = %+v", item)
	}
	if len(item.Events) != 3 {
		t.Fatalf("events = %d", len(item.Events))
	}
	for i, event := range item.Events {
		if event.ID != ack.LogIDs[i] {
			t.Errorf("event %d id = %q, want %q", i, event.ID, ack.LogIDs[i])
		}
		if event.ServiceName != "svc1" {
			t.Errorf("event %d service = %q", i, event.ServiceName)
		}
	}

	if depths := q.Depths(); depths.Batch != 0 {
		t.Errorf("batch enqueued as %d items, want exactly one", depths.Batch+1)
	}
}

func TestIngestBatch_ChargesWholeBatchBeforeValidation(t *testing.T) {
	g, q := newTestGateway(t, 8)
	ctx := context.Background()

	// Quota is 10; an 11-event batch is rejected whole on cost.
	if _, err := g.IngestBatch(ctx, "svc1-key", batchBody("svc1", 11)); !errors.Is(err, auth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if depths := q.Depths(); depths.Batch != 0 {
		t.Errorf("rejected batch reached the queue: %+v", depths)
	}
}

func TestIngestBatch_AtomicRejection(t *testing.T) {
	g, q := newTestGateway(t, 8)
	ctx := context.Background()

	body := []byte(`{"batch_id":"b-2","service_name":"svc1","logs":[
		{"level":"INFO","message":"ok"},
		{"level":"NOPE","message":"bad"}
	]}`)
	var verr *contract.ValidationError
	if _, err := g.IngestBatch(ctx, "svc1-key", body); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if depths := q.Depths(); depths.Batch != 0 {
		t.Errorf("partially valid batch reached the queue: %+v", depths)
	}
}

func TestIngestBatch_ForeignServiceRejected(t *testing.T) {
	g, q := newTestGateway(t, 8)
	var verr *contract.ValidationError
	if _, err := g.IngestBatch(context.Background(), "svc1-key", batchBody("svc2", 2)); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if depths := q.Depths(); depths.Batch != 0 {
		t.Errorf("foreign batch reached the queue: %+v", depths)
	}
}

func TestIngestBatch_MalformedJSON(t *testing.T) {
	g, _ := newTestGateway(t, 8)
	var verr *contract.ValidationError
	if _, err := g.IngestBatch(context.Background(), "svc1-key", []byte(`{"logs": [`)); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// Package gateway implements the per-request ingestion sequence:
// authenticate, charge the rate window, validate the contract, enqueue.
// It fails fast at the first failing step; later steps are never
// attempted, so a rejected request leaves zero side effects beyond the
// quota charge itself.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/primoia/log-watcher/internal/auth"
	"github.com/primoia/log-watcher/internal/contract"
	"github.com/primoia/log-watcher/internal/model"
	"github.com/primoia/log-watcher/internal/queue"
)

// Ack is the acceptance acknowledgment returned once an ingest call has
// been queued. It promises "accepted for processing", not durability.
type Ack struct {
	LogID      string    `json:"log_id,omitempty"`
	BatchID    string    `json:"batch_id,omitempty"`
	LogIDs     []string  `json:"log_ids,omitempty"`
	TotalLogs  int       `json:"total_logs,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Gateway wires the auth service, the contract validator, and the queue.
type Gateway struct {
	auth      *auth.Service
	validator *contract.Validator
	queue     queue.Queue
	logger    zerolog.Logger
	now       func() time.Time
}

// New builds a Gateway over the given collaborators.
func New(authSvc *auth.Service, validator *contract.Validator, q queue.Queue, logger zerolog.Logger) *Gateway {
	return &Gateway{
		auth:      authSvc,
		validator: validator,
		queue:     q,
		logger:    logger.With().Str("component", "gateway").Logger(),
		now:       time.Now,
	}
}

// IngestSingle runs the boundary sequence for one raw event. Error
// classes: auth.ErrUnauthorized, auth.ErrRateLimited,
// *contract.ValidationError, queue.ErrQueueFull.
func (g *Gateway) IngestSingle(ctx context.Context, apiKey string, body []byte) (*Ack, error) {
	identity, err := g.auth.Authenticate(apiKey)
	if err != nil {
		return nil, err
	}
	if err := g.auth.CheckAndConsume(identity.ServiceName, 1); err != nil {
		return nil, err
	}
	event, err := g.validator.ValidateEvent(body)
	if err != nil {
		return nil, err
	}
	if event.ServiceName != identity.ServiceName {
		return nil, &contract.ValidationError{
			Field:  "service_name",
			Reason: "does not match the service owning the API key",
		}
	}
	event.ID = uuid.NewString()
	now := g.now().UTC()
	item := &queue.Item{
		Class:       queue.ClassSingle,
		Events:      []model.LogEvent{*event},
		EnqueueTime: now,
	}
	if err := g.queue.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	g.logger.Info().
		Str("service", identity.ServiceName).
		Str("log_id", event.ID).
		Str("level", string(event.Level)).
		Msg("log accepted")
	return &Ack{LogID: event.ID, AcceptedAt: now}, nil
}

// batchHeader is the minimal decode needed to price the batch before the
// rate window is charged; the full contract check runs afterwards.
type batchHeader struct {
	Logs []json.RawMessage `json:"logs"`
}

// IngestBatch authenticates once, charges the window with the whole batch
// size atomically, validates the batch atomically, and enqueues it as one
// unit. A partially valid batch never reaches the queue.
func (g *Gateway) IngestBatch(ctx context.Context, apiKey string, body []byte) (*Ack, error) {
	identity, err := g.auth.Authenticate(apiKey)
	if err != nil {
		return nil, err
	}
	var header batchHeader
	if err := json.Unmarshal(body, &header); err != nil {
		return nil, &contract.ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if cost := len(header.Logs); cost > 0 {
		if err := g.auth.CheckAndConsume(identity.ServiceName, cost); err != nil {
			return nil, err
		}
	}
	batch, err := g.validator.ValidateBatch(body)
	if err != nil {
		return nil, err
	}
	if batch.ServiceName != identity.ServiceName {
		return nil, &contract.ValidationError{
			Field:  "service_name",
			Reason: "does not match the service owning the API key",
		}
	}
	logIDs := make([]string, len(batch.Events))
	for i := range batch.Events {
		batch.Events[i].ID = uuid.NewString()
		logIDs[i] = batch.Events[i].ID
	}
	now := g.now().UTC()
	item := &queue.Item{
		Class:       queue.ClassBatch,
		BatchID:     batch.BatchID,
		Events:      batch.Events,
		EnqueueTime: now,
	}
	if err := g.queue.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	g.logger.Info().
		Str("service", identity.ServiceName).
		Str("batch_id", batch.BatchID).
		Int("events", len(batch.Events)).
		Msg("batch accepted")
	return &Ack{
		BatchID:    batch.BatchID,
		LogIDs:     logIDs,
		TotalLogs:  len(batch.Events),
		AcceptedAt: now,
	}, nil
}

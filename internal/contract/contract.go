// Package contract defines and validates the wire shape of log events and
// batches before anything downstream trusts them. Validation is pure: no
// queue, auth, or metrics side effects.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/primoia/log-watcher/internal/model"
)

// ValidationError reports a malformed or out-of-range contract field.
// It is always recoverable by the caller correcting the payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

// Options control the contract limits. The oversize-message policy and the
// attribute caps are deliberately configurable; defaults are conservative.
type Options struct {
	// MaxMessageBytes caps the message field. Oversized messages are
	// rejected unless TruncateOversize is set.
	MaxMessageBytes int
	// TruncateOversize truncates oversized messages instead of rejecting
	// them, marking the event with a "truncated" attribute.
	TruncateOversize bool
	// MaxAttrs caps the number of preserved open attributes per event.
	MaxAttrs int
	// MaxAttrBytes caps the encoded size of the open attribute map.
	MaxAttrBytes int
	// MaxBatchEvents caps the number of events in one batch.
	MaxBatchEvents int
}

// DefaultOptions returns the limits used when configuration is silent.
func DefaultOptions() Options {
	return Options{
		MaxMessageBytes:  16 * 1024,
		TruncateOversize: false,
		MaxAttrs:         64,
		MaxAttrBytes:     8 * 1024,
		MaxBatchEvents:   1000,
	}
}

// Validator checks raw ingestion payloads against the log contract.
type Validator struct {
	opts     Options
	validate *validator.Validate
	now      func() time.Time
}

// NewValidator builds a Validator with the given limits. Zero limits fall
// back to DefaultOptions values.
func NewValidator(opts Options) *Validator {
	def := DefaultOptions()
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	if opts.MaxAttrs <= 0 {
		opts.MaxAttrs = def.MaxAttrs
	}
	if opts.MaxAttrBytes <= 0 {
		opts.MaxAttrBytes = def.MaxAttrBytes
	}
	if opts.MaxBatchEvents <= 0 {
		opts.MaxBatchEvents = def.MaxBatchEvents
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{opts: opts, validate: v, now: time.Now}
}

// ValidateEvent parses and validates a single raw event. On success the
// returned event carries its wire size and a timestamp (defaulted to the
// ingestion time when absent). Unknown fields are preserved, not rejected.
func (v *Validator) ValidateEvent(raw []byte) (*model.LogEvent, error) {
	var event model.LogEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if err := v.finishEvent(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ValidateBatch parses and validates a raw batch atomically: batch-level
// fields first, then every contained event against the batch defaults.
// One failing event fails the whole batch; partial batches never exist.
func (v *Validator) ValidateBatch(raw []byte) (*model.LogBatch, error) {
	var batch model.LogBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, &ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if err := v.structErr(&batch); err != nil {
		return nil, err
	}
	if len(batch.Events) > v.opts.MaxBatchEvents {
		return nil, &ValidationError{
			Field:  "logs",
			Reason: fmt.Sprintf("batch too large: %d events (max %d)", len(batch.Events), v.opts.MaxBatchEvents),
		}
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = v.now().UTC()
	}
	for i := range batch.Events {
		event := &batch.Events[i]
		applyBatchDefaults(event, &batch)
		if event.ServiceName != batch.ServiceName {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("logs[%d].service_name", i),
				Reason: fmt.Sprintf("%q does not match batch service %q", event.ServiceName, batch.ServiceName),
			}
		}
		if err := v.finishEvent(event); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, &ValidationError{
					Field:  fmt.Sprintf("logs[%d].%s", i, verr.Field),
					Reason: verr.Reason,
				}
			}
			return nil, err
		}
	}
	return &batch, nil
}

// finishEvent runs the field checks shared by single and batch ingestion
// and stamps defaults onto the event.
func (v *Validator) finishEvent(event *model.LogEvent) error {
	if err := v.structErr(event); err != nil {
		return err
	}
	if !event.Level.Valid() {
		return &ValidationError{
			Field:  "level",
			Reason: fmt.Sprintf("unknown level %q (want one of %v)", event.Level, model.Levels()),
		}
	}
	if len(event.Message) > v.opts.MaxMessageBytes {
		if !v.opts.TruncateOversize {
			return &ValidationError{
				Field:  "message",
				Reason: fmt.Sprintf("message is %d bytes (max %d)", len(event.Message), v.opts.MaxMessageBytes),
			}
		}
		event.Message = event.Message[:v.opts.MaxMessageBytes]
		if event.Attrs == nil {
			event.Attrs = make(map[string]any, 1)
		}
		event.Attrs["truncated"] = true
	}
	if len(event.Attrs) > v.opts.MaxAttrs {
		return &ValidationError{
			Field:  "attributes",
			Reason: fmt.Sprintf("%d attributes (max %d)", len(event.Attrs), v.opts.MaxAttrs),
		}
	}
	if len(event.Attrs) > 0 {
		encoded, err := json.Marshal(event.Attrs)
		if err != nil {
			return &ValidationError{Field: "attributes", Reason: "not encodable: " + err.Error()}
		}
		if len(encoded) > v.opts.MaxAttrBytes {
			return &ValidationError{
				Field:  "attributes",
				Reason: fmt.Sprintf("attributes encode to %d bytes (max %d)", len(encoded), v.opts.MaxAttrBytes),
			}
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = v.now().UTC()
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return &ValidationError{Reason: "not encodable: " + err.Error()}
	}
	event.SizeBytes = len(encoded)
	return nil
}

// structErr maps the first go-playground violation to a ValidationError.
func (v *Validator) structErr(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:  fe.Field(),
			Reason: "failed " + fe.Tag() + " check",
		}
	}
	return &ValidationError{Reason: err.Error()}
}

// applyBatchDefaults fills empty identity fields from the batch header.
func applyBatchDefaults(event *model.LogEvent, batch *model.LogBatch) {
	if event.ServiceName == "" {
		event.ServiceName = batch.ServiceName
	}
	if event.ServiceType == "" {
		event.ServiceType = batch.ServiceType
	}
	if event.ServiceVersion == "" {
		event.ServiceVersion = batch.ServiceVersion
	}
	if event.ServiceInstanceID == "" {
		event.ServiceInstanceID = batch.ServiceInstanceID
	}
}

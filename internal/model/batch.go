package model

import "time"

// LogBatch is a client-submitted group of log events sharing a batch ID
// and a default service identity. Per-event fields override the batch
// defaults; an event naming a different service than the batch makes the
// whole batch invalid.
type LogBatch struct {
	BatchID           string     `json:"batch_id" validate:"required"`
	ServiceName       string     `json:"service_name" validate:"required"`
	ServiceType       string     `json:"service_type"`
	ServiceVersion    string     `json:"service_version"`
	ServiceInstanceID string     `json:"service_instance_id"`
	Timestamp         time.Time  `json:"timestamp"`
	Events            []LogEvent `json:"logs" validate:"required,min=1"`
}

// Size returns the number of events in the batch; this is also the rate
// limit cost of accepting it.
func (b *LogBatch) Size() int {
	return len(b.Events)
}

// LevelDistribution counts the batch's events per severity.
func (b *LogBatch) LevelDistribution() map[Level]int {
	dist := make(map[Level]int, len(b.Events))
	for i := range b.Events {
		dist[b.Events[i].Level]++
	}
	return dist
}

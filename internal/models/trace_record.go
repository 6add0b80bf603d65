package models

import (
	"time"

	"github.com/lib/pq"
)

// MaxTags is the maximum number of tags accepted on a single trace.
const MaxTags = 10

// TraceStatus is the terminal outcome of an agent execution.
type TraceStatus string

const (
	StatusSuccess TraceStatus = "success"
	StatusError   TraceStatus = "error"
	StatusTimeout TraceStatus = "timeout"
)

// ValidStatus reports whether s is one of the recognized trace statuses.
func ValidStatus(s string) bool {
	switch TraceStatus(s) {
	case StatusSuccess, StatusError, StatusTimeout:
		return true
	}
	return false
}

// TraceRecord is the canonical unit of telemetry flowing through the
// pipeline. The pair (TraceID, Timestamp) is the persistence identity:
// re-delivery of the same logical event must not create a duplicate row.
//
// A record is created at the edge, serialized onto the event log, rebuilt
// by the record processor and becomes immutable once persisted.
type TraceRecord struct {
	TraceID     string    `db:"trace_id" json:"trace_id"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id,omitempty"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`

	AgentID       string      `db:"agent_id" json:"agent_id,omitempty"`
	LatencyMS     int64       `db:"latency_ms" json:"latency_ms"`
	Status        TraceStatus `db:"status" json:"status"`
	Model         string      `db:"model" json:"model"`
	ModelProvider string      `db:"model_provider" json:"model_provider,omitempty"`

	Input  *string `db:"input" json:"input,omitempty"`
	Output *string `db:"output" json:"output,omitempty"`
	Error  *string `db:"error" json:"error,omitempty"`

	TokensInput  *int64   `db:"tokens_input" json:"tokens_input,omitempty"`
	TokensOutput *int64   `db:"tokens_output" json:"tokens_output,omitempty"`
	TokensTotal  *int64   `db:"tokens_total" json:"tokens_total,omitempty"`
	CostUSD      *float64 `db:"cost_usd" json:"cost_usd,omitempty"`

	Metadata Metadata       `db:"metadata" json:"metadata,omitempty"`
	Tags     pq.StringArray `db:"tags" json:"tags,omitempty"`
}

package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawTrace mirrors a caller payload before normalization. Timestamp is kept
// raw because callers send it in several shapes: RFC 3339 strings, unix
// seconds, unix milliseconds, or not at all.
type RawTrace struct {
	TraceID       string          `json:"trace_id"`
	WorkspaceID   string          `json:"workspace_id"`
	Timestamp     json.RawMessage `json:"timestamp,omitempty"`
	AgentID       string          `json:"agent_id"`
	LatencyMS     int64           `json:"latency_ms"`
	Status        string          `json:"status"`
	Model         string          `json:"model"`
	ModelProvider string          `json:"model_provider"`
	Input         *string         `json:"input,omitempty"`
	Output        *string         `json:"output,omitempty"`
	Error         *string         `json:"error,omitempty"`
	TokensInput   *int64          `json:"tokens_input,omitempty"`
	TokensOutput  *int64          `json:"tokens_output,omitempty"`
	TokensTotal   *int64          `json:"tokens_total,omitempty"`
	CostUSD       *float64        `json:"cost_usd,omitempty"`
	Metadata      Metadata        `json:"metadata,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
}

// ValidationError describes why a raw trace was rejected. It never reaches
// the event log; rejection happens synchronously at the edge.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trace: %s: %s", e.Field, e.Reason)
}

// Normalize turns a raw trace into a canonical TraceRecord or a
// *ValidationError. Hard failures are limited to missing identity fields,
// a non-positive latency and more than MaxTags distinct tags. Anomalies the
// pipeline can repair (unparseable timestamp, unrecognized status, missing
// tokens_total) are corrected instead, and each repair is reported as a
// warning so the caller can log it.
//
// now supplies the substitute event time when the payload carries none.
func (r *RawTrace) Normalize(now time.Time) (*TraceRecord, []string, error) {
	if r.TraceID == "" {
		return nil, nil, &ValidationError{Field: "trace_id", Reason: "missing required field"}
	}
	if r.Model == "" {
		return nil, nil, &ValidationError{Field: "model", Reason: "missing required field"}
	}
	if r.LatencyMS <= 0 {
		return nil, nil, &ValidationError{Field: "latency_ms", Reason: "must be positive"}
	}

	var warnings []string

	tags := dedupeTags(r.Tags)
	if len(tags) > MaxTags {
		return nil, nil, &ValidationError{
			Field:  "tags",
			Reason: fmt.Sprintf("at most %d tags allowed, got %d", MaxTags, len(tags)),
		}
	}

	ts, ok := parseTimestamp(r.Timestamp)
	if !ok {
		ts = now
		if len(r.Timestamp) > 0 {
			warnings = append(warnings, fmt.Sprintf("unparseable timestamp %q, using ingest time", string(r.Timestamp)))
		}
	}

	status := TraceStatus(r.Status)
	if r.Status == "" {
		status = StatusSuccess
	} else if !ValidStatus(r.Status) {
		status = StatusSuccess
		warnings = append(warnings, fmt.Sprintf("unrecognized status %q, coerced to %q", r.Status, StatusSuccess))
	}

	// tokens_total is derived only when absent; an explicit value is kept
	// even if inconsistent with the parts.
	total := r.TokensTotal
	if total == nil && r.TokensInput != nil && r.TokensOutput != nil {
		sum := *r.TokensInput + *r.TokensOutput
		total = &sum
	}

	rec := &TraceRecord{
		TraceID:       r.TraceID,
		WorkspaceID:   r.WorkspaceID,
		Timestamp:     ts.UTC(),
		AgentID:       r.AgentID,
		LatencyMS:     r.LatencyMS,
		Status:        status,
		Model:         r.Model,
		ModelProvider: r.ModelProvider,
		Input:         r.Input,
		Output:        r.Output,
		Error:         r.Error,
		TokensInput:   r.TokensInput,
		TokensOutput:  r.TokensOutput,
		TokensTotal:   total,
		CostUSD:       r.CostUSD,
		Metadata:      r.Metadata,
		Tags:          tags,
	}

	if rec.CostUSD != nil && *rec.CostUSD < 0 {
		return nil, nil, &ValidationError{Field: "cost_usd", Reason: "must not be negative"}
	}

	return rec, warnings, nil
}

// dedupeTags collapses duplicate tags, preserving first-seen order.
func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// parseTimestamp accepts RFC 3339 strings, unix seconds and unix
// milliseconds. Values above 1e12 are treated as milliseconds; agent
// traces do not predate 1971.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	s := strings.TrimSpace(string(raw))

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, str); err == nil {
				return ts, true
			}
		}
		// Numeric timestamp sent as a string.
		s = str
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), true
}

package models

// BatchError records one rejected record of a batch submission: its
// position in the original batch, the offending trace id when the payload
// carried one, and the reason.
type BatchError struct {
	Index   int    `json:"index"`
	TraceID string `json:"trace_id,omitempty"`
	Error   string `json:"error"`
}

// BatchResult is the transient outcome of batch ingestion. It is returned
// to the caller and never persisted.
type BatchResult struct {
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Errors   []BatchError `json:"errors,omitempty"`
}

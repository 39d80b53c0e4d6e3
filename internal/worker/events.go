package worker

// EmbedRequest is the ingest.embed message body.
type EmbedRequest struct {
	FileID        string `json:"file_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

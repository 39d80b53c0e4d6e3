package job

import (
	"encoding/json"
	"time"
)

// Handlers that record failed jobs. The handler decides where a retry goes.
const (
	HandlerResult = "result-consumer"
	HandlerEmbed  = "embedder-consumer"
)

type Job struct {
	ID        string          `json:"id"`
	FileID    string          `json:"file_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter narrows a failed job listing. Empty fields match everything.
type Filter struct {
	FileID  string
	Handler string
}

package job

import (
	"encoding/json"
	"time"
)

// Job is a unit of queued work that failed and was parked for a manual
// retry. Handler is the topic the payload is republished to.
type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id,omitempty"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}

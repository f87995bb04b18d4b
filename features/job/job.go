package job

import (
	"encoding/json"
	"time"

	"bookscroll/internal/config"
)

// Handlers that record failed jobs. Retry routes the payload back to the matching topic.
const (
	HandlerIngestBook  = "ingest-book"
	HandlerIngestEmbed = "ingest-embed"
)

type Job struct {
	ID         int64           `json:"id"`
	DocumentID int64           `json:"document_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Topic is where a retried payload goes. Unknown handlers fall back to book ingestion.
func (j *Job) Topic() string {
	if j.Handler == HandlerIngestEmbed {
		return config.TopicIngestEmbed
	}
	return config.TopicIngestBook
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	DocumentID int64
	Handler    string
}

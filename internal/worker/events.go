package worker

// IngestBookPayload is the body of an ingest.book message. Failed pipeline
// jobs are stored with the same shape so a retry can republish them as is.
type IngestBookPayload struct {
	DocumentID    int64  `json:"document_id"`
	Path          string `json:"path"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// IngestEmbedPayload is the body of an ingest.embed message.
type IngestEmbedPayload struct {
	SnippetID     int64  `json:"snippet_id"`
	DocumentID    int64  `json:"document_id"`
	Text          string `json:"text"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

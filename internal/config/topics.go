package config

const (
	// TopicIngestBook is the NSQ topic for uploaded documents awaiting the extraction pipeline.
	TopicIngestBook = "ingest.book"

	// TopicIngestEmbed is the NSQ topic for re-embedding snippets that have no stored vector.
	TopicIngestEmbed = "ingest.embed"
)

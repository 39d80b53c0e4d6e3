package config

const (
	// TopicIngestResult carries extraction results waiting to be chunked.
	TopicIngestResult = "ingest.result"

	// TopicIngestEmbed carries re-embedding requests for a file's active chunks.
	TopicIngestEmbed = "ingest.embed"
)

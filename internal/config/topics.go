package config

const (
	// TopicIngestLink is the NSQ topic for asynchronous link ingestion.
	TopicIngestLink = "ingest.link"

	// TopicIndexRebuild is the NSQ topic driving incremental local index rebuilds.
	// Each message runs one bounded rebuild invocation.
	TopicIndexRebuild = "index.rebuild"
)

// Topics lists every topic the service publishes to or consumes.
func Topics() []string {
	return []string{TopicIngestLink, TopicIndexRebuild}
}

package model

// Shared defaults used by the server and its stores.
const (
	DefaultEnvironment = "production"
	DefaultMetadata    = "{}"

	DefaultPageSize = 50
	MaxPageSize     = 500

	DefaultPatternHours    = 24
	DefaultPatternMinCount = 2
	DefaultPatternLimit    = 50

	// TraceRowLimit caps a trace timeline; longer traces are truncated.
	TraceRowLimit = 500

	SourceHTTP = "http"
	SourceOTLP = "otlp"
)

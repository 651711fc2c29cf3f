package ir

// Version stamps written on every invocation row.
const (
	// IRVersion is the record schema version.
	IRVersion = "1"

	// EngineVersion is the sync engine version.
	EngineVersion = "0.3.0"
)

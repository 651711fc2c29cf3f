package ir

// SyncFiring records one firing of a sync rule. ID is the store's rowid.
type SyncFiring struct {
	ID           int64  `json:"id"`
	CompletionID string `json:"completion_id"`
	SyncID       string `json:"sync_id"`
	BindingHash  string `json:"binding_hash"`
	Seq          int64  `json:"seq"`
}

// ProvenanceEdge links a firing to an invocation it produced.
type ProvenanceEdge struct {
	ID           int64  `json:"id"`
	SyncFiringID int64  `json:"sync_firing_id"`
	InvocationID string `json:"invocation_id"`
}

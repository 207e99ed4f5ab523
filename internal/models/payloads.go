package models

// These structs define the JSON payloads exchanged with the Cloud Function trigger
// and the post-fulfillment workflow.

// RunRequest is the optional body of the HTTP trigger.
type RunRequest struct {
	Trigger string `json:"trigger,omitempty"`
	DryRun  bool   `json:"dryRun,omitempty"`
}

// RunReport summarizes one orchestrator run.
type RunReport struct {
	RunID          string   `json:"runId"`
	Status         string   `json:"status"`
	Pending        int      `json:"pending"`
	Fulfilled      []string `json:"fulfilled"`
	Partial        []string `json:"partial"`
	Skipped        []string `json:"skipped"`
	Errors         int      `json:"errors"`
	NothingPending bool     `json:"nothingPending"`
}

// HandoffPayload is the argument of the post-fulfillment workflow execution.
type HandoffPayload struct {
	RequestID string       `json:"requestId"`
	Folder    string       `json:"folder"`
	Link      string       `json:"link"`
	Outputs   []OutputKind `json:"outputs"`
}

package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
)

// Handoff starts a Cloud Workflows execution for each fulfilled request, e.g. to
// archive the folder or update a public index.
type Handoff struct {
	client *executions.Client
	parent string
}

// NewHandoff wraps client for the configured workflow.
func NewHandoff(client *executions.Client, cfg config.HandoffConfig) *Handoff {
	return &Handoff{client: client, parent: WorkflowParent(cfg)}
}

// WorkflowParent is the resource name executions are created under.
func WorkflowParent(cfg config.HandoffConfig) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", cfg.ProjectID, cfg.Location, cfg.WorkflowID)
}

// Trigger creates one execution with payload as its argument and returns its name.
func (h *Handoff) Trigger(ctx context.Context, payload models.HandoffPayload) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: h.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := h.client.CreateExecution(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}

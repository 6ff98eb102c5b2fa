// Package client talks to the backend REST API that is the
// authoritative record of which workflows exist server-side.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/makereels/sync/internal/model"
)

// WorkflowLister answers the pending-workflows reconciliation query
type WorkflowLister interface {
	ListPending(ctx context.Context, userID string) ([]model.PendingWorkflow, error)
}

// APIClient is the resty-backed WorkflowLister against the production API
type APIClient struct {
	rc *resty.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second)
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &APIClient{rc: rc}
}

// ListPending returns the user's workflows that are still in flight.
// Rows in any state other than pending or processing are dropped here
// so callers only ever see countable work.
func (c *APIClient) ListPending(ctx context.Context, userID string) ([]model.PendingWorkflow, error) {
	var workflows []model.PendingWorkflow

	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&workflows).
		Get(fmt.Sprintf("/api/users/%s/workflows/pending", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending workflows: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("pending workflows request failed with status %d", resp.StatusCode())
	}

	pending := workflows[:0]
	for _, wf := range workflows {
		if wf.Pending() {
			pending = append(pending, wf)
		}
	}
	return pending, nil
}

package client

import (
	"context"
	"fmt"
	"net/url"
)

// DepartmentResolver resolves head-of-department assignees for HOD stages.
type DepartmentResolver interface {
	// GetHeadOfDepartment returns the user IDs of a department's heads.
	GetHeadOfDepartment(ctx context.Context, department string) ([]string, error)
}

// DepartmentClient is an HTTP client for the departments service. Stages with
// is_hod set defer assignee resolution to this lookup instead of an explicit
// user list.
type DepartmentClient struct {
	client *httpClient
}

// NewDepartmentClient creates a new departments service client.
func NewDepartmentClient(baseURL string) *DepartmentClient {
	return &DepartmentClient{client: newHTTPClient(baseURL)}
}

type headOfDepartmentResponse struct {
	Department string   `json:"department"`
	HeadIDs    []string `json:"head_ids"`
}

// GetHeadOfDepartment returns the user IDs of the department's heads.
func (c *DepartmentClient) GetHeadOfDepartment(ctx context.Context, department string) ([]string, error) {
	path := fmt.Sprintf("/api/v1/departments/head?name=%s", url.QueryEscape(department))

	var resp headOfDepartmentResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve head of department: %w", err)
	}
	return resp.HeadIDs, nil
}

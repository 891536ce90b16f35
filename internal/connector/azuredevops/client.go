package azuredevops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client provides methods to interact with the Azure DevOps REST API.
type Client struct {
	Organization string // Organization name or URL
	Project      string
	PAT          string // Personal Access Token
	BaseURL      string // Full base URL (derived from Organization)
	HTTPClient   *http.Client

	// MaxRetries bounds retry attempts for transient failures (429, 5xx,
	// transport errors). Zero disables retries.
	MaxRetries uint64
}

// NewClient creates a new Azure DevOps client.
func NewClient(organization, project, pat string) *Client {
	// Accept both a bare organization name and a full URL (the latter is
	// what on-prem servers and tests pass).
	baseURL := organization
	if !strings.HasPrefix(organization, "http") {
		baseURL = fmt.Sprintf("https://dev.azure.com/%s", organization)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		Organization: organization,
		Project:      project,
		PAT:          pat,
		BaseURL:      baseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		MaxRetries: 3,
	}
}

// StatusError is an API response outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// retryable reports whether the failure is worth retrying. 429 and 5xx
// responses and transport errors are; other API errors are not.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	// Anything that never produced a response (DNS, connection refused,
	// timeouts) comes back as a transport error.
	var ue *url.Error
	return errors.As(err, &ue)
}

// doRequest performs an authenticated HTTP request with retry on transient
// failures.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, contentType string) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	reqURL := c.BaseURL + path + separator + "api-version=" + APIVersion

	var respBody []byte
	attempt := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}

		// Azure DevOps uses Basic auth with empty username and PAT as password.
		auth := base64.StdEncoding.EncodeToString([]byte(":" + c.PAT))
		req.Header.Set("Authorization", "Basic "+auth)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		} else if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			serr := &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
			if retryable(serr) {
				return serr
			}
			return backoff.Permanent(serr)
		}

		respBody = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Minute
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.MaxRetries), ctx)

	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}

// QueryIDs runs a WIQL query and returns the matching work item IDs.
func (c *Client) QueryIDs(ctx context.Context, wiql string) ([]int, error) {
	path := fmt.Sprintf("/%s/_apis/wit/wiql", url.PathEscape(c.Project))
	respBody, err := c.doRequest(ctx, http.MethodPost, path, WIQLQueryRequest{Query: wiql}, "application/json")
	if err != nil {
		return nil, fmt.Errorf("WIQL query failed: %w", err)
	}

	var queryResp WIQLQueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, fmt.Errorf("parsing WIQL response: %w", err)
	}

	ids := make([]int, len(queryResp.WorkItems))
	for i, ref := range queryResp.WorkItems {
		ids[i] = ref.ID
	}
	return ids, nil
}

// GetWorkItems fetches the given work items in batches of MaxPageSize.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]WorkItem, error) {
	var all []WorkItem
	for i := 0; i < len(ids); i += MaxPageSize {
		end := i + MaxPageSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		idStrings := make([]string, len(batch))
		for j, id := range batch {
			idStrings[j] = strconv.Itoa(id)
		}

		path := fmt.Sprintf("/%s/_apis/wit/workitems?ids=%s&$expand=all",
			url.PathEscape(c.Project), strings.Join(idStrings, ","))

		respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return nil, fmt.Errorf("fetching work item batch: %w", err)
		}

		var batchResp WorkItemBatchResponse
		if err := json.Unmarshal(respBody, &batchResp); err != nil {
			return nil, fmt.Errorf("parsing work item batch: %w", err)
		}
		all = append(all, batchResp.Value...)
	}
	return all, nil
}

// GetWorkItem fetches a single work item, or nil when it does not exist.
func (c *Client) GetWorkItem(ctx context.Context, id int) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d?$expand=all", url.PathEscape(c.Project), id)

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var wi WorkItem
	if err := json.Unmarshal(respBody, &wi); err != nil {
		return nil, fmt.Errorf("parsing work item: %w", err)
	}
	return &wi, nil
}

// CreateWorkItem creates a work item of the given type from a JSON-patch
// document.
func (c *Client) CreateWorkItem(ctx context.Context, workItemType string, ops []PatchOperation) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/$%s", url.PathEscape(c.Project), url.PathEscape(workItemType))

	respBody, err := c.doRequest(ctx, http.MethodPost, path, ops, "application/json-patch+json")
	if err != nil {
		return nil, fmt.Errorf("creating work item: %w", err)
	}

	var wi WorkItem
	if err := json.Unmarshal(respBody, &wi); err != nil {
		return nil, fmt.Errorf("parsing create response: %w", err)
	}
	return &wi, nil
}

// UpdateWorkItem applies a JSON-patch document to an existing work item.
func (c *Client) UpdateWorkItem(ctx context.Context, id int, ops []PatchOperation) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d", url.PathEscape(c.Project), id)

	respBody, err := c.doRequest(ctx, http.MethodPatch, path, ops, "application/json-patch+json")
	if err != nil {
		return nil, fmt.Errorf("updating work item: %w", err)
	}

	var wi WorkItem
	if err := json.Unmarshal(respBody, &wi); err != nil {
		return nil, fmt.Errorf("parsing update response: %w", err)
	}
	return &wi, nil
}

// ListProjects retrieves the projects visible to the PAT, used by Validate.
func (c *Client) ListProjects(ctx context.Context) ([]string, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/_apis/projects?$top=100", nil, "")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	var resp struct {
		Value []struct {
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing projects response: %w", err)
	}

	names := make([]string, len(resp.Value))
	for i, p := range resp.Value {
		names[i] = p.Name
	}
	return names, nil
}

// BuildWorkItemURL returns the web URL of a work item.
func (c *Client) BuildWorkItemURL(id int) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, c.Project, id)
}

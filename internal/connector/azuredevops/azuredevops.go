package azuredevops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/worksync/worksync/internal/connector"
	"github.com/worksync/worksync/internal/types"
)

func init() {
	connector.Register("azuredevops", func() connector.Connector {
		return &AzureDevOps{}
	})
}

// AzureDevOps implements connector.Connector against the Azure DevOps work
// item tracking REST API.
type AzureDevOps struct {
	client *Client
}

func (a *AzureDevOps) Name() string { return "azuredevops" }

// Init configures the connector. Required settings: organization (name or
// full URL), project, pat.
func (a *AzureDevOps) Init(ctx context.Context, settings map[string]string) error {
	organization, err := connector.RequireSetting(settings, "azuredevops", "organization")
	if err != nil {
		return err
	}
	project, err := connector.RequireSetting(settings, "azuredevops", "project")
	if err != nil {
		return err
	}
	pat, err := connector.RequireSetting(settings, "azuredevops", "pat")
	if err != nil {
		return err
	}

	a.client = NewClient(organization, project, pat)
	if v := settings["max_retries"]; v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			a.client.MaxRetries = n
		}
	}
	return nil
}

// Validate checks connectivity by listing the projects the PAT can see and
// confirming the configured project is among them.
func (a *AzureDevOps) Validate(ctx context.Context) error {
	if a.client == nil {
		return &connector.ErrNotInitialized{Connector: "azuredevops"}
	}
	projects, err := a.client.ListProjects(ctx)
	if err != nil {
		return a.wrap("validate", err)
	}
	for _, name := range projects {
		if strings.EqualFold(name, a.client.Project) {
			return nil
		}
	}
	return fmt.Errorf("azuredevops: project %q not visible to this PAT", a.client.Project)
}

// QueryItems runs a WIQL query built from the options and fetches the
// matching work items in batches.
func (a *AzureDevOps) QueryItems(ctx context.Context, opts connector.QueryOptions) ([]*connector.Item, error) {
	if a.client == nil {
		return nil, &connector.ErrNotInitialized{Connector: "azuredevops"}
	}

	wiql := fmt.Sprintf("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '%s'",
		strings.ReplaceAll(a.client.Project, "'", "''"))
	if opts.Filter != "" {
		wiql += " AND (" + opts.Filter + ")"
	}
	if opts.Since != nil {
		wiql += fmt.Sprintf(" AND [System.ChangedDate] >= '%s'", opts.Since.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if len(opts.IDs) > 0 {
		ids := make([]string, 0, len(opts.IDs))
		for _, raw := range opts.IDs {
			if _, err := strconv.Atoi(raw); err != nil {
				return nil, fmt.Errorf("azuredevops: invalid work item ID %q", raw)
			}
			ids = append(ids, raw)
		}
		wiql += " AND [System.Id] IN (" + strings.Join(ids, ",") + ")"
	}
	wiql += " ORDER BY [System.Id] ASC"

	ids, err := a.client.QueryIDs(ctx, wiql)
	if err != nil {
		return nil, a.wrap("query", err)
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	if len(ids) == 0 {
		return []*connector.Item{}, nil
	}

	workItems, err := a.client.GetWorkItems(ctx, ids)
	if err != nil {
		return nil, a.wrap("query", err)
	}

	items := make([]*connector.Item, len(workItems))
	for i := range workItems {
		items[i] = a.toItem(&workItems[i])
	}
	return items, nil
}

// GetItem fetches a single work item, or nil, nil when it does not exist.
func (a *AzureDevOps) GetItem(ctx context.Context, id string) (*connector.Item, error) {
	if a.client == nil {
		return nil, &connector.ErrNotInitialized{Connector: "azuredevops"}
	}
	numID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("azuredevops: invalid work item ID %q", id)
	}

	wi, err := a.client.GetWorkItem(ctx, numID)
	if err != nil {
		return nil, a.wrap("get", err)
	}
	if wi == nil {
		return nil, nil
	}
	return a.toItem(wi), nil
}

// CreateItem creates a work item of the given type with the given fields.
func (a *AzureDevOps) CreateItem(ctx context.Context, itemType string, fields types.FieldSnapshot) (*connector.Item, error) {
	if a.client == nil {
		return nil, &connector.ErrNotInitialized{Connector: "azuredevops"}
	}

	ops := make([]PatchOperation, 0, len(fields))
	for _, name := range fields.Keys() {
		if fields[name] == nil {
			continue
		}
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/" + name, Value: fields[name]})
	}

	wi, err := a.client.CreateWorkItem(ctx, itemType, ops)
	if err != nil {
		return nil, a.wrap("create", err)
	}
	return a.toItem(wi), nil
}

// UpdateItem applies field changes to an existing work item. A nil value
// removes the field.
func (a *AzureDevOps) UpdateItem(ctx context.Context, id string, fields types.FieldSnapshot) (*connector.Item, error) {
	if a.client == nil {
		return nil, &connector.ErrNotInitialized{Connector: "azuredevops"}
	}
	numID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("azuredevops: invalid work item ID %q", id)
	}

	ops := make([]PatchOperation, 0, len(fields))
	for _, name := range fields.Keys() {
		if fields[name] == nil {
			ops = append(ops, PatchOperation{Op: "remove", Path: "/fields/" + name})
			continue
		}
		// "add" both creates and replaces in the work item patch dialect.
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/" + name, Value: fields[name]})
	}

	wi, err := a.client.UpdateWorkItem(ctx, numID, ops)
	if err != nil {
		return nil, a.wrap("update", err)
	}
	return a.toItem(wi), nil
}

func (a *AzureDevOps) Close() error { return nil }

// toItem converts a wire work item into the connector's generic form.
// Identity fields are flattened to display names so snapshots compare
// stably between fetches.
func (a *AzureDevOps) toItem(wi *WorkItem) *connector.Item {
	item := &connector.Item{
		ID:       strconv.Itoa(wi.ID),
		Revision: wi.Rev,
		URL:      a.client.BuildWorkItemURL(wi.ID),
		Fields:   make(types.FieldSnapshot, len(wi.Fields)),
	}

	for name, value := range wi.Fields {
		item.Fields[name] = flattenValue(value)
	}

	if t, ok := wi.Fields["System.WorkItemType"].(string); ok {
		item.Type = t
	}
	if raw, ok := wi.Fields["System.ChangedDate"].(string); ok {
		if ts, err := parseTimestamp(raw); err == nil {
			item.ChangedDate = ts
		}
	}
	if who, ok := wi.Fields["System.ChangedBy"]; ok {
		if name := identityName(who); name != "" {
			item.ChangedBy = name
		}
	}
	return item
}

// flattenValue reduces identity objects to their display name and leaves
// everything else untouched.
func flattenValue(v any) any {
	if name := identityName(v); name != "" {
		return name
	}
	return v
}

func identityName(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if name, ok := m["displayName"].(string); ok {
		return name
	}
	return ""
}

// wrap tags an error with the connector name, operation, and whether it is
// worth retrying at a higher level.
func (a *AzureDevOps) wrap(op string, err error) error {
	return &connector.Error{
		Connector: "azuredevops",
		Op:        op,
		Err:       err,
		Retryable: retryable(err),
	}
}

// parseTimestamp parses the ISO 8601 variants Azure DevOps emits.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.0000000Z",
		"2006-01-02T15:04:05Z",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}

// Package azuredevops provides the Azure DevOps connector for the sync
// engine. Work items are fetched via WIQL queries and the batch work item
// API, and written with JSON-patch documents.
package azuredevops

import (
	"time"
)

// API constants
const (
	DefaultTimeout = 30 * time.Second
	MaxPageSize    = 200
	APIVersion     = "7.0"
)

// WorkItem is a work item as returned by the REST API. Fields carries every
// field by its reference name (System.Title, Microsoft.VSTS.Common.Priority,
// ...) so the generic mapping layer can see the full surface without this
// package enumerating them.
type WorkItem struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	URL    string         `json:"url"`
	Fields map[string]any `json:"fields"`
}

// Identity is an Azure DevOps user reference as it appears inside identity
// fields (System.AssignedTo, System.ChangedBy, ...).
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// WIQLQueryRequest is the request body for WIQL queries.
type WIQLQueryRequest struct {
	Query string `json:"query"`
}

// WIQLQueryResponse is the response from a WIQL query.
type WIQLQueryResponse struct {
	QueryType       string        `json:"queryType"`
	QueryResultType string        `json:"queryResultType"`
	AsOf            string        `json:"asOf"`
	WorkItems       []WorkItemRef `json:"workItems"`
}

// WorkItemRef is a reference to a work item in WIQL results.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WorkItemBatchResponse is the response from batch get.
type WorkItemBatchResponse struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// PatchOperation is one entry of a JSON-patch document used for work item
// create and update.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
}

package catenasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Catena HTTP API client.
type Client struct {
	BaseURL      string
	CollectionID string
	APIKey       string
	BearerToken  string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, collectionID string) *Client {
	return &Client{
		BaseURL:      baseURL,
		CollectionID: collectionID,
		Timeout:      10 * time.Second,
	}
}

// Collection represents the API collection model (partial).
type Collection struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Version represents a draft or published version.
type Version struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Published   bool      `json:"published"`
	PublishedOn string    `json:"published_on,omitempty"`
	Changelog   string    `json:"changelog,omitempty"`
	Creators    []Creator `json:"creators,omitempty"`
}

// Creator is a name attached to a published version.
type Creator struct {
	CreatorName  string `json:"creator_name"`
	GivenName    string `json:"given_name,omitempty"`
	FamilyName   string `json:"family_name,omitempty"`
	CreatorIndex int    `json:"creator_index"`
}

// Resource represents a draft or published resource.
type Resource struct {
	ID             string `json:"id"`
	VersionID      string `json:"version_id"`
	Action         string `json:"action,omitempty"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
	ResourceType   string `json:"resource_type"`
	VersionLabel   string `json:"version_label,omitempty"`
}

// InternalRelation links two resources of the same collection.
type InternalRelation struct {
	ID           string `json:"id"`
	SourceID     string `json:"source_id"`
	TargetID     string `json:"target_id"`
	Type         string `json:"type"`
	ResourceType string `json:"resource_type,omitempty"`
	Action       string `json:"action,omitempty"`
}

// ExternalRelation links a resource to an identifier outside the collection.
type ExternalRelation struct {
	ID           string `json:"id"`
	SourceID     string `json:"source_id"`
	Target       string `json:"target"`
	TargetType   string `json:"target_type,omitempty"`
	Type         string `json:"type"`
	ResourceType string `json:"resource_type,omitempty"`
	Action       string `json:"action,omitempty"`
}

// Draft bundles the draft version with its content.
type Draft struct {
	Version           Version            `json:"version"`
	Resources         []Resource         `json:"resources"`
	InternalRelations []InternalRelation `json:"internal_relations"`
	ExternalRelations []ExternalRelation `json:"external_relations"`
}

// ValidationError describes one defect found in a draft.
type ValidationError struct {
	ResourceID string `json:"resource_id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
}

// ValidationResult reports whether a draft may be published.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

// Event represents a log entry.
type Event struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts"`
	Type         string         `json:"type"`
	CollectionID string         `json:"collection_id"`
	EntityKind   string         `json:"entity_kind"`
	EntityID     string         `json:"entity_id"`
	Payload      map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCollection creates a collection and its initial empty draft.
func (c *Client) CreateCollection(ctx context.Context, title, description string) (Collection, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	var resp Collection
	err := c.do(ctx, http.MethodPost, "v0/collections", body, &resp)
	return resp, err
}

// Draft returns the current draft with all its content.
func (c *Client) Draft(ctx context.Context) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodGet, c.collectionPath("draft"), nil, &resp)
	return resp, err
}

// EnsureDraft creates the draft when missing and returns it.
func (c *Client) EnsureDraft(ctx context.Context) (Version, error) {
	var resp Version
	err := c.do(ctx, http.MethodPost, c.collectionPath("draft"), nil, &resp)
	return resp, err
}

// CreateResource stages a resource in the draft.
func (c *Client) CreateResource(ctx context.Context, r Resource) (Resource, error) {
	body := map[string]any{
		"title":           r.Title,
		"description":     r.Description,
		"identifier":      r.Identifier,
		"identifier_type": r.IdentifierType,
		"resource_type":   r.ResourceType,
		"version_label":   r.VersionLabel,
	}
	var resp Resource
	err := c.do(ctx, http.MethodPost, c.collectionPath("resources"), body, &resp)
	return resp, err
}

// DeleteResource removes or delete-tags a draft resource.
func (c *Client) DeleteResource(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.collectionPath("resources/"+url.PathEscape(id)), nil, nil)
}

// RestoreResource undoes a pending delete.
func (c *Client) RestoreResource(ctx context.Context, id string) (Resource, error) {
	var resp Resource
	endpoint := c.collectionPath(fmt.Sprintf("resources/%s/restore", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateInternalRelation stages a relation between two draft resources.
func (c *Client) CreateInternalRelation(ctx context.Context, sourceID, targetID, relType, resourceType string) (InternalRelation, error) {
	body := map[string]any{
		"source_id":     sourceID,
		"target_id":     targetID,
		"type":          relType,
		"resource_type": resourceType,
	}
	var resp InternalRelation
	err := c.do(ctx, http.MethodPost, c.collectionPath("relations/internal"), body, &resp)
	return resp, err
}

// CreateExternalRelation stages a relation to an identifier outside the collection.
func (c *Client) CreateExternalRelation(ctx context.Context, sourceID, target, targetType, relType, resourceType string) (ExternalRelation, error) {
	body := map[string]any{
		"source_id":     sourceID,
		"target":        target,
		"target_type":   targetType,
		"type":          relType,
		"resource_type": resourceType,
	}
	var resp ExternalRelation
	err := c.do(ctx, http.MethodPost, c.collectionPath("relations/external"), body, &resp)
	return resp, err
}

// Validate runs the draft checks without publishing.
func (c *Client) Validate(ctx context.Context) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodGet, c.collectionPath("draft/validation"), nil, &resp)
	return resp, err
}

// Publish freezes the draft under a calendar version name. Creators are
// optional display names recorded on the published version.
func (c *Client) Publish(ctx context.Context, changelog string, creators []Creator) (Version, error) {
	body := map[string]any{
		"changelog": changelog,
		"creators":  creators,
	}
	var resp Version
	err := c.do(ctx, http.MethodPost, c.collectionPath("publish"), body, &resp)
	return resp, err
}

// Versions lists all versions of the collection, newest first.
func (c *Client) Versions(ctx context.Context) ([]Version, error) {
	var resp []Version
	err := c.do(ctx, http.MethodGet, c.collectionPath("versions"), nil, &resp)
	return resp, err
}

// Events returns recent events for the collection.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events?collection_id=" + url.QueryEscape(c.CollectionID)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) collectionPath(p string) string {
	collection := url.PathEscape(c.CollectionID)
	return fmt.Sprintf("v0/collections/%s/%s", collection, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

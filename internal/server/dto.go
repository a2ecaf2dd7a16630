package server

import (
	"encoding/json"

	"catena/internal/domain"
)

type CreateCollectionRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
}

type UpdateCollectionRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CollectionResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Identifier  string `json:"identifier"`
	ImageURL    string `json:"image_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func collectionResponse(c domain.Collection) CollectionResponse {
	return CollectionResponse{
		ID:          c.ID,
		WorkspaceID: c.WorkspaceID,
		Title:       c.Title,
		Description: c.Description,
		Identifier:  c.Identifier,
		ImageURL:    c.ImageURL,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func mapCollections(items []domain.Collection) []CollectionResponse {
	res := make([]CollectionResponse, 0, len(items))
	for _, c := range items {
		res = append(res, collectionResponse(c))
	}
	return res
}

type VersionResponse struct {
	ID           string           `json:"id"`
	CollectionID string           `json:"collection_id"`
	Name         string           `json:"name"`
	Identifier   string           `json:"identifier"`
	Changelog    string           `json:"changelog,omitempty"`
	Published    bool             `json:"published"`
	PublishedOn  *string          `json:"published_on,omitempty"`
	Creators     []domain.Creator `json:"creators,omitempty"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
}

func versionResponse(v domain.Version) VersionResponse {
	resp := VersionResponse{
		ID:           v.ID,
		CollectionID: v.CollectionID,
		Name:         v.Name,
		Identifier:   v.Identifier,
		Changelog:    v.Changelog,
		Published:    v.Published,
		PublishedOn:  v.PublishedOn,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
	if v.CreatorsJSON != nil {
		_ = json.Unmarshal([]byte(*v.CreatorsJSON), &resp.Creators)
	}
	return resp
}

func mapVersions(items []domain.Version) []VersionResponse {
	res := make([]VersionResponse, 0, len(items))
	for _, v := range items {
		res = append(res, versionResponse(v))
	}
	return res
}

type CreateResourceRequest struct {
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	Identifier     *string `json:"identifier,omitempty"`
	IdentifierType *string `json:"identifier_type,omitempty"`
	ResourceType   *string `json:"resource_type,omitempty"`
	VersionLabel   *string `json:"version_label,omitempty"`
}

type UpdateResourceRequest struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Identifier     *string `json:"identifier,omitempty"`
	IdentifierType *string `json:"identifier_type,omitempty"`
	ResourceType   *string `json:"resource_type,omitempty"`
	VersionLabel   *string `json:"version_label,omitempty"`
}

type NewResourceVersionRequest struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
	VersionLabel   string `json:"version_label,omitempty"`
	CloneRelations bool   `json:"clone_relations,omitempty"`
}

type ResourceResponse struct {
	ID                 string  `json:"id"`
	VersionID          string  `json:"version_id"`
	CanonicalID        string  `json:"canonical_id"`
	LineageID          *string `json:"lineage_id,omitempty"`
	OriginalResourceID *string `json:"original_resource_id,omitempty"`
	Action             *string `json:"action,omitempty"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	Identifier         string  `json:"identifier"`
	IdentifierType     string  `json:"identifier_type"`
	ResourceType       string  `json:"resource_type"`
	VersionLabel       *string `json:"version_label,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func resourceResponse(r domain.Resource) ResourceResponse {
	var action *string
	if r.Action != nil {
		s := string(*r.Action)
		action = &s
	}
	return ResourceResponse{
		ID:                 r.ID,
		VersionID:          r.VersionID,
		CanonicalID:        r.CanonicalID,
		LineageID:          r.LineageID,
		OriginalResourceID: r.OriginalResourceID,
		Action:             action,
		Title:              r.Title,
		Description:        r.Description,
		Identifier:         r.Identifier,
		IdentifierType:     r.IdentifierType,
		ResourceType:       r.ResourceType,
		VersionLabel:       r.VersionLabel,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func mapResources(items []domain.Resource) []ResourceResponse {
	res := make([]ResourceResponse, 0, len(items))
	for _, r := range items {
		res = append(res, resourceResponse(r))
	}
	return res
}

type CreateInternalRelationRequest struct {
	SourceID     string  `json:"source_id"`
	TargetID     string  `json:"target_id"`
	Type         string  `json:"type"`
	ResourceType *string `json:"resource_type,omitempty"`
}

type UpdateInternalRelationRequest struct {
	TargetID     *string `json:"target_id,omitempty"`
	Type         *string `json:"type,omitempty"`
	ResourceType *string `json:"resource_type,omitempty"`
}

type InternalRelationResponse struct {
	ID                 string  `json:"id"`
	VersionID          string  `json:"version_id"`
	SourceID           string  `json:"source_id"`
	TargetID           string  `json:"target_id"`
	Type               string  `json:"type"`
	Mirror             bool    `json:"mirror"`
	ResourceType       *string `json:"resource_type,omitempty"`
	OriginalRelationID *string `json:"original_relation_id,omitempty"`
	Action             *string `json:"action,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func internalRelationResponse(r domain.InternalRelation) InternalRelationResponse {
	var action *string
	if r.Action != nil {
		s := string(*r.Action)
		action = &s
	}
	return InternalRelationResponse{
		ID:                 r.ID,
		VersionID:          r.VersionID,
		SourceID:           r.SourceID,
		TargetID:           r.TargetID,
		Type:               r.Type,
		Mirror:             r.Mirror,
		ResourceType:       r.ResourceType,
		OriginalRelationID: r.OriginalRelationID,
		Action:             action,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func mapInternalRelations(items []domain.InternalRelation) []InternalRelationResponse {
	res := make([]InternalRelationResponse, 0, len(items))
	for _, r := range items {
		res = append(res, internalRelationResponse(r))
	}
	return res
}

type CreateExternalRelationRequest struct {
	SourceID     string  `json:"source_id"`
	Target       string  `json:"target"`
	TargetType   *string `json:"target_type,omitempty"`
	Type         string  `json:"type"`
	ResourceType *string `json:"resource_type,omitempty"`
}

type UpdateExternalRelationRequest struct {
	Target       *string `json:"target,omitempty"`
	TargetType   *string `json:"target_type,omitempty"`
	Type         *string `json:"type,omitempty"`
	ResourceType *string `json:"resource_type,omitempty"`
}

type ExternalRelationResponse struct {
	ID                 string  `json:"id"`
	VersionID          string  `json:"version_id"`
	SourceID           string  `json:"source_id"`
	Target             string  `json:"target"`
	TargetType         *string `json:"target_type,omitempty"`
	Type               string  `json:"type"`
	ResourceType       *string `json:"resource_type,omitempty"`
	OriginalRelationID *string `json:"original_relation_id,omitempty"`
	Action             *string `json:"action,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func externalRelationResponse(r domain.ExternalRelation) ExternalRelationResponse {
	var action *string
	if r.Action != nil {
		s := string(*r.Action)
		action = &s
	}
	return ExternalRelationResponse{
		ID:                 r.ID,
		VersionID:          r.VersionID,
		SourceID:           r.SourceID,
		Target:             r.Target,
		TargetType:         r.TargetType,
		Type:               r.Type,
		ResourceType:       r.ResourceType,
		OriginalRelationID: r.OriginalRelationID,
		Action:             action,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func mapExternalRelations(items []domain.ExternalRelation) []ExternalRelationResponse {
	res := make([]ExternalRelationResponse, 0, len(items))
	for _, r := range items {
		res = append(res, externalRelationResponse(r))
	}
	return res
}

// DraftResponse is the full editable view of a draft: the version row plus
// every resource and relation.
type DraftResponse struct {
	Version           VersionResponse            `json:"version"`
	Resources         []ResourceResponse         `json:"resources"`
	InternalRelations []InternalRelationResponse `json:"internal_relations"`
	ExternalRelations []ExternalRelationResponse `json:"external_relations"`
}

type ValidationErrorResponse struct {
	ResourceID string `json:"resource_id"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message"`
}

type ValidationResponse struct {
	Valid  bool                      `json:"valid"`
	Errors []ValidationErrorResponse `json:"errors"`
}

func validationResponse(r domain.ValidationResult) ValidationResponse {
	resp := ValidationResponse{Valid: r.Valid, Errors: []ValidationErrorResponse{}}
	for _, e := range r.Errors {
		resp.Errors = append(resp.Errors, ValidationErrorResponse{ResourceID: e.ResourceID, Title: e.Title, Message: e.Message})
	}
	return resp
}

type PublishRequest struct {
	Changelog string           `json:"changelog,omitempty"`
	Creators  []domain.Creator `json:"creators,omitempty"`
}

type AccessRequest struct {
	Role string `json:"role"`
}

type AccessResponse struct {
	CollectionID string `json:"collection_id"`
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	CreatedAt    string `json:"created_at"`
}

func accessResponse(a domain.CollectionAccess) AccessResponse {
	return AccessResponse{CollectionID: a.CollectionID, UserID: a.UserID, Role: a.Role, CreatedAt: a.CreatedAt}
}

type EventResponse struct {
	ID           int64           `json:"id"`
	TS           string          `json:"ts"`
	Type         string          `json:"type"`
	CollectionID string          `json:"collection_id,omitempty"`
	EntityKind   string          `json:"entity_kind"`
	EntityID     string          `json:"entity_id,omitempty"`
	UserID       string          `json:"user_id"`
	Payload      json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:           e.ID,
		TS:           e.TS,
		Type:         e.Type,
		CollectionID: e.CollectionID,
		EntityKind:   e.EntityKind,
		EntityID:     e.EntityID,
		UserID:       e.UserID,
		Payload:      payload,
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

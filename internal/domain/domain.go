package domain

// Action tags the pending change of a draft-owned row relative to the last
// published version. Rows owned by a published version carry no action.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionClone      Action = "clone"
	ActionDelete     Action = "delete"
	ActionOldVersion Action = "oldVersion"
)

type Collection struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Identifier  string `json:"identifier"`
	ImageURL    string `json:"image_url,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Version struct {
	ID           string  `json:"id"`
	CollectionID string  `json:"collection_id"`
	Name         string  `json:"name"`
	Identifier   string  `json:"identifier"`
	Changelog    string  `json:"changelog,omitempty"`
	Published    bool    `json:"published"`
	PublishedOn  *string `json:"published_on,omitempty" format:"date-time"`
	CreatorsJSON *string `json:"creators_json,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Resource struct {
	ID                 string  `json:"id"`
	VersionID          string  `json:"version_id"`
	CanonicalID        string  `json:"canonical_id"`
	LineageID          *string `json:"lineage_id,omitempty"`
	OriginalResourceID *string `json:"original_resource_id,omitempty"`
	Action             *Action `json:"action,omitempty" enum:"create,update,clone,delete,oldVersion"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	Identifier         string  `json:"identifier"`
	IdentifierType     string  `json:"identifier_type"`
	ResourceType       string  `json:"resource_type"`
	VersionLabel       *string `json:"version_label,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type InternalRelation struct {
	ID                 string  `json:"id"`
	VersionID          string  `json:"version_id"`
	SourceID           string  `json:"source_id"`
	TargetID           string  `json:"target_id"`
	Type               string  `json:"type"`
	Mirror             bool    `json:"mirror"`
	ResourceType       *string `json:"resource_type,omitempty"`
	OriginalRelationID *string `json:"original_relation_id,omitempty"`
	Action             *Action `json:"action,omitempty" enum:"create,update,clone,delete"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type ExternalRelation struct {
	ID                 string  `json:"id"`
	VersionID          string  `json:"version_id"`
	SourceID           string  `json:"source_id"`
	Target             string  `json:"target"`
	TargetType         *string `json:"target_type,omitempty"`
	Type               string  `json:"type"`
	ResourceType       *string `json:"resource_type,omitempty"`
	OriginalRelationID *string `json:"original_relation_id,omitempty"`
	Action             *Action `json:"action,omitempty" enum:"create,update,clone,delete"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// Creator is the denormalized author metadata snapshotted onto a version at
// publish time.
type Creator struct {
	CreatorName    string `json:"creator_name"`
	GivenName      string `json:"given_name,omitempty"`
	FamilyName     string `json:"family_name,omitempty"`
	NameType       string `json:"name_type,omitempty"`
	Affiliation    string `json:"affiliation,omitempty"`
	Identifier     string `json:"identifier,omitempty"`
	IdentifierType string `json:"identifier_type,omitempty"`
	CreatorIndex   int    `json:"creator_index"`
}

type CollectionAccess struct {
	CollectionID string `json:"collection_id"`
	UserID       string `json:"user_id"`
	Role         string `json:"role" enum:"viewer,editor,admin,owner"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	CollectionID string `json:"collection_id,omitempty"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id,omitempty"`
	UserID       string `json:"user_id"`
	Payload      string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidationError describes one defect found in a draft, attributed to a
// resource for UI display.
type ValidationError struct {
	ResourceID string `json:"resource_id"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message"`
}

// ValidationResult is returned as data, never as an error, so callers can
// render every defect together.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

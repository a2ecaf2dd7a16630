package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models catena.yml. The relation catalog is configuration data
// consumed by the draft validator, not engine logic.
type Config struct {
	Workspace struct {
		ID    string `yaml:"id"`
		Title string `yaml:"title"`
	} `yaml:"workspace"`
	Relations struct {
		// Catalog maps a relation type to its semantic mirror type.
		// An empty mirror means the type has no defined inverse.
		Catalog map[string]RelationType `yaml:"catalog"`
		// VersionLabelTypes lists relation types that require a version
		// label on the participating resources.
		VersionLabelTypes []string `yaml:"version_label_types"`
	} `yaml:"relations"`
	RBAC struct {
		// Roles maps a role name to its rank; higher ranks satisfy
		// lower-rank requirements.
		Roles map[string]int `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type RelationType struct {
	Description string `yaml:"description,omitempty"`
	Mirror      string `yaml:"mirror,omitempty"`
}

// WebhookConfig describes one endpoint fed from the event log.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run catena workspace init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if len(c.Relations.Catalog) == 0 {
		return fmt.Errorf("config.relations.catalog is required")
	}
	for name, rt := range c.Relations.Catalog {
		if name == "" {
			return fmt.Errorf("config.relations.catalog contains empty type")
		}
		if rt.Mirror == "" {
			continue
		}
		back, ok := c.Relations.Catalog[rt.Mirror]
		if !ok {
			return fmt.Errorf("relation type %s mirrors unknown type %s", name, rt.Mirror)
		}
		if back.Mirror != name {
			return fmt.Errorf("relation types %s and %s are not mutual mirrors", name, rt.Mirror)
		}
	}
	for _, name := range c.Relations.VersionLabelTypes {
		if _, ok := c.Relations.Catalog[name]; !ok {
			return fmt.Errorf("version_label_types references unknown relation type %s", name)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		for _, role := range []string{"viewer", "editor", "admin", "owner"} {
			if _, ok := c.RBAC.Roles[role]; !ok {
				return fmt.Errorf("config.rbac.roles must include %s", role)
			}
		}
	}
	return nil
}

// MirrorOf returns the mirror type for a relation type, or "" when the type
// has no defined inverse.
func (c *Config) MirrorOf(relationType string) string {
	rt, ok := c.Relations.Catalog[relationType]
	if !ok {
		return ""
	}
	return rt.Mirror
}

// RequiresVersionLabel reports whether relations of this type require a
// version label on the participating resources.
func (c *Config) RequiresVersionLabel(relationType string) bool {
	for _, t := range c.Relations.VersionLabelTypes {
		if t == relationType {
			return true
		}
	}
	return false
}

// RoleRank returns the rank for a role, 0 when unknown.
func (c *Config) RoleRank(role string) int {
	return c.RBAC.Roles[role]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "catena.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	cfg.Workspace.ID = workspaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s
  title: Default Workspace

relations:
  catalog:
    IsNewVersionOf:
      description: "This resource is a new version of the target"
      mirror: IsPreviousVersionOf
    IsPreviousVersionOf:
      description: "This resource is a previous version of the target"
      mirror: IsNewVersionOf
    IsVersionOf:
      description: "This resource is a version of the target"
      mirror: HasVersion
    HasVersion:
      description: "The target is a version of this resource"
      mirror: IsVersionOf
    Cites:
      mirror: IsCitedBy
    IsCitedBy:
      mirror: Cites
    IsPartOf:
      mirror: HasPart
    HasPart:
      mirror: IsPartOf
    References:
      mirror: IsReferencedBy
    IsReferencedBy:
      mirror: References
    Documents:
      mirror: IsDocumentedBy
    IsDocumentedBy:
      mirror: Documents
    IsSupplementTo:
      mirror: IsSupplementedBy
    IsSupplementedBy:
      mirror: IsSupplementTo
    IsDerivedFrom:
      mirror: IsSourceOf
    IsSourceOf:
      mirror: IsDerivedFrom
    Requires:
      mirror: IsRequiredBy
    IsRequiredBy:
      mirror: Requires
    Obsoletes:
      mirror: IsObsoletedBy
    IsObsoletedBy:
      mirror: Obsoletes
    Describes:
      mirror: IsDescribedBy
    IsDescribedBy:
      mirror: Describes
    Continues:
      mirror: IsContinuedBy
    IsContinuedBy:
      mirror: Continues
    IsIdenticalTo: {}
    IsPublishedIn: {}

  version_label_types:
    - IsNewVersionOf
    - IsPreviousVersionOf
    - IsVersionOf

rbac:
  roles:
    viewer: 1
    editor: 2
    admin: 3
    owner: 4
`

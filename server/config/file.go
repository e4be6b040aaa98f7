// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Node is a single LDAP server within a cluster. The positional index in the
// cluster's node list carries meaning: index 0 is the primary master and the
// only write target.
type Node struct {
	Host string `mapstructure:"host" validate:"required" json:"host"`
	Port int    `mapstructure:"port" validate:"required,gte=1,lte=65535" json:"port"`
	Name string `mapstructure:"name" json:"name,omitempty"`
}

func (n Node) String() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Label returns the configured node name or host:port.
func (n Node) Label() string {
	if n.Name != "" {
		return n.Name
	}

	return n.String()
}

// FormField is one declarative field of the user creation form.
type FormField struct {
	Name         string   `mapstructure:"name" validate:"required" json:"name"`
	Label        string   `mapstructure:"label" validate:"required" json:"label"`
	Type         string   `mapstructure:"type" validate:"required,oneof=text email password number select checkbox" json:"type"`
	Required     bool     `mapstructure:"required" json:"required"`
	Default      string   `mapstructure:"default" json:"default,omitempty"`
	AutoGenerate string   `mapstructure:"auto_generate" json:"auto_generate,omitempty"`
	Options      []string `mapstructure:"options" json:"options,omitempty"`
	Placeholder  string   `mapstructure:"placeholder" json:"placeholder,omitempty"`
	HelpText     string   `mapstructure:"help_text" json:"help_text,omitempty"`
}

// CreationForm is the declarative user creation template of a cluster.
type CreationForm struct {
	BaseOU string      `mapstructure:"base_ou" json:"base_ou,omitempty"`
	Fields []FormField `mapstructure:"fields" validate:"dive" json:"fields"`
}

// TableColumn describes one column of a per-view entry table.
type TableColumn struct {
	Attribute string `mapstructure:"attribute" validate:"required" json:"attribute"`
	Label     string `mapstructure:"label" validate:"required" json:"label"`
	Visible   bool   `mapstructure:"visible" json:"visible"`
	Sortable  bool   `mapstructure:"sortable" json:"sortable"`
}

// PasswordPolicy constrains password fields rendered by the UI.
type PasswordPolicy struct {
	MinLength           int  `mapstructure:"min_length" validate:"gte=0" json:"min_length"`
	RequireConfirmation bool `mapstructure:"require_confirmation" json:"require_confirmation"`
}

// DefaultPasswordPolicy mirrors the policy applied when a cluster does not
// configure one.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 0, RequireConfirmation: true}
}

// defaultSearchAttributes is the attribute disjunction applied to free-text
// listing queries when the cluster does not configure its own set.
var defaultSearchAttributes = []string{"uid", "cn", "mail", "sn"}

// Cluster is a named directory endpoint: either one host/port or an ordered
// multi-master node list.
type Cluster struct {
	Name        string `mapstructure:"name" validate:"required" json:"name"`
	Description string `mapstructure:"description" json:"description,omitempty"`

	// Single-node form. Mutually exclusive with Nodes.
	Host string `mapstructure:"host" json:"host,omitempty"`
	Port int    `mapstructure:"port" validate:"omitempty,gte=1,lte=65535" json:"port,omitempty"`

	// Multi-master form.
	Nodes []Node `mapstructure:"nodes" validate:"omitempty,min=1,dive" json:"nodes,omitempty"`

	BindDN   string `mapstructure:"bind_dn" validate:"required" json:"bind_dn"`
	BaseDN   string `mapstructure:"base_dn" validate:"required" json:"base_dn"`
	Readonly bool   `mapstructure:"readonly" json:"readonly"`

	SearchAttributes []string                 `mapstructure:"search_attributes" json:"search_attributes,omitempty"`
	UserCreationForm *CreationForm            `mapstructure:"user_creation_form" json:"-"`
	TableColumns     map[string][]TableColumn `mapstructure:"table_columns" json:"-"`
	PasswordPolicy   *PasswordPolicy          `mapstructure:"password_policy" json:"-"`
}

// AllNodes returns the cluster topology as an ordered node list. Single-host
// clusters yield exactly one node.
func (c *Cluster) AllNodes() []Node {
	if c.Host != "" {
		port := c.Port
		if port == 0 {
			port = 389
		}

		return []Node{{Host: c.Host, Port: port}}
	}

	return c.Nodes
}

// WriteNode returns the primary master (index 0).
func (c *Cluster) WriteNode() Node {
	return c.AllNodes()[0]
}

// GetSearchAttributes returns the configured query attributes or the defaults.
func (c *Cluster) GetSearchAttributes() []string {
	if len(c.SearchAttributes) > 0 {
		return c.SearchAttributes
	}

	return defaultSearchAttributes
}

// GetPasswordPolicy returns the configured policy or the default one.
func (c *Cluster) GetPasswordPolicy() PasswordPolicy {
	if c.PasswordPolicy != nil {
		return *c.PasswordPolicy
	}

	return DefaultPasswordPolicy()
}

// FileSettings is the validated configuration tree. It is loaded once at
// startup and treated as immutable afterwards; reload builds a fresh tree.
type FileSettings struct {
	Clusters []*Cluster `mapstructure:"clusters" validate:"required,min=1,dive"`
}

// GetCluster returns the cluster with the given name, or nil.
func (f *FileSettings) GetCluster(name string) *Cluster {
	for _, cluster := range f.Clusters {
		if cluster.Name == name {
			return cluster
		}
	}

	return nil
}

// Load reads and validates the YAML cluster configuration. Any violation of
// the topology invariants is fatal; the core never starts degraded.
func Load(path string) (*FileSettings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	settings := &FileSettings{}

	decoderOpts := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
	}

	if err := v.Unmarshal(settings, decoderOpts); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// Validate enforces the invariants that struct tags alone cannot express:
// unique cluster names, host xor nodes, and select-options pairing.
func (f *FileSettings) Validate() error {
	validate := validator.New()

	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Clusters))

	for index, cluster := range f.Clusters {
		if _, duplicate := seen[cluster.Name]; duplicate {
			return fmt.Errorf("cluster #%d: duplicate cluster name %q", index+1, cluster.Name)
		}

		seen[cluster.Name] = struct{}{}

		hasHost := strings.TrimSpace(cluster.Host) != ""
		hasNodes := len(cluster.Nodes) > 0

		if hasHost && hasNodes {
			return fmt.Errorf("cluster %q: set either 'host' or 'nodes', not both", cluster.Name)
		}

		if !hasHost && !hasNodes {
			return fmt.Errorf("cluster %q: one of 'host' or 'nodes' is required", cluster.Name)
		}

		if cluster.UserCreationForm != nil {
			for _, field := range cluster.UserCreationForm.Fields {
				if field.Type == "select" && len(field.Options) == 0 {
					return fmt.Errorf("cluster %q: form field %q is a select without options", cluster.Name, field.Name)
				}

				if field.Type != "select" && len(field.Options) > 0 {
					return fmt.Errorf("cluster %q: form field %q has options but is not a select", cluster.Name, field.Name)
				}
			}
		}

		for key := range cluster.TableColumns {
			switch key {
			case "users", "groups", "ous":
			default:
				return fmt.Errorf("cluster %q: invalid table_columns key %q", cluster.Name, key)
			}
		}
	}

	return nil
}

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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCluster(name string) *Cluster {
	return &Cluster{
		Name:   name,
		Host:   "ldap.example.org",
		Port:   389,
		BindDN: "cn=admin,dc=example,dc=org",
		BaseDN: "dc=example,dc=org",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FileSettings)
		wantErr string
	}{
		{
			name:   "valid_single_host",
			mutate: func(*FileSettings) {},
		},
		{
			name: "valid_multi_node",
			mutate: func(f *FileSettings) {
				f.Clusters[0].Host = ""
				f.Clusters[0].Port = 0
				f.Clusters[0].Nodes = []Node{
					{Host: "a", Port: 389, Name: "node-a"},
					{Host: "b", Port: 389, Name: "node-b"},
				}
			},
		},
		{
			name: "duplicate_names",
			mutate: func(f *FileSettings) {
				f.Clusters = append(f.Clusters, validCluster("c1"))
			},
			wantErr: "duplicate cluster name",
		},
		{
			name: "host_and_nodes",
			mutate: func(f *FileSettings) {
				f.Clusters[0].Nodes = []Node{{Host: "a", Port: 389}}
			},
			wantErr: "not both",
		},
		{
			name: "neither_host_nor_nodes",
			mutate: func(f *FileSettings) {
				f.Clusters[0].Host = ""
			},
			wantErr: "required",
		},
		{
			name: "port_out_of_range",
			mutate: func(f *FileSettings) {
				f.Clusters[0].Port = 70000
			},
			wantErr: "validation",
		},
		{
			name: "node_port_out_of_range",
			mutate: func(f *FileSettings) {
				f.Clusters[0].Host = ""
				f.Clusters[0].Port = 0
				f.Clusters[0].Nodes = []Node{{Host: "a", Port: 0}}
			},
			wantErr: "validation",
		},
		{
			name: "missing_bind_dn",
			mutate: func(f *FileSettings) {
				f.Clusters[0].BindDN = ""
			},
			wantErr: "validation",
		},
		{
			name: "missing_base_dn",
			mutate: func(f *FileSettings) {
				f.Clusters[0].BaseDN = ""
			},
			wantErr: "validation",
		},
		{
			name: "select_without_options",
			mutate: func(f *FileSettings) {
				f.Clusters[0].UserCreationForm = &CreationForm{
					Fields: []FormField{{Name: "shell", Label: "Shell", Type: "select"}},
				}
			},
			wantErr: "select without options",
		},
		{
			name: "options_without_select",
			mutate: func(f *FileSettings) {
				f.Clusters[0].UserCreationForm = &CreationForm{
					Fields: []FormField{{Name: "mail", Label: "Mail", Type: "email", Options: []string{"x"}}},
				}
			},
			wantErr: "not a select",
		},
		{
			name: "invalid_field_type",
			mutate: func(f *FileSettings) {
				f.Clusters[0].UserCreationForm = &CreationForm{
					Fields: []FormField{{Name: "bio", Label: "Bio", Type: "textarea"}},
				}
			},
			wantErr: "validation",
		},
		{
			name: "invalid_table_columns_key",
			mutate: func(f *FileSettings) {
				f.Clusters[0].TableColumns = map[string][]TableColumn{
					"machines": {{Attribute: "cn", Label: "Name"}},
				}
			},
			wantErr: "table_columns",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			settings := &FileSettings{Clusters: []*Cluster{validCluster("c1")}}
			tc.mutate(settings)

			err := settings.Validate()

			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

const sampleConfig = `
clusters:
  - name: production
    description: main directory
    nodes:
      - host: ldap1.example.org
        port: 389
        name: primary
      - host: ldap2.example.org
        port: 389
        name: replica
    bind_dn: cn=admin,dc=example,dc=org
    base_dn: dc=example,dc=org
    search_attributes: [uid, cn]
    password_policy:
      min_length: 12
      require_confirmation: true
    user_creation_form:
      base_ou: ou=people,dc=example,dc=org
      fields:
        - name: uid
          label: Username
          type: text
          required: true
        - name: uidNumber
          label: UID number
          type: number
          auto_generate: next_uid
        - name: loginShell
          label: Shell
          type: select
          options: [/bin/bash, /bin/zsh]
  - name: lab
    host: ldap.lab.example.org
    port: 1389
    bind_dn: cn=admin,dc=lab
    base_dn: dc=lab
    readonly: true
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	settings, err := Load(path)
	require.NoError(t, err)
	require.Len(t, settings.Clusters, 2)

	production := settings.GetCluster("production")
	require.NotNil(t, production)
	assert.Len(t, production.Nodes, 2)
	assert.Equal(t, "primary", production.Nodes[0].Name)
	assert.Equal(t, []string{"uid", "cn"}, production.GetSearchAttributes())
	assert.Equal(t, 12, production.GetPasswordPolicy().MinLength)
	require.NotNil(t, production.UserCreationForm)
	assert.Equal(t, "ou=people,dc=example,dc=org", production.UserCreationForm.BaseOU)
	assert.Len(t, production.UserCreationForm.Fields, 3)

	lab := settings.GetCluster("lab")
	require.NotNil(t, lab)
	assert.True(t, lab.Readonly)
	assert.Equal(t, "ldap.lab.example.org:1389", lab.WriteNode().String())

	assert.Nil(t, settings.GetCluster("missing"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestAllNodes(t *testing.T) {
	single := validCluster("solo")
	single.Port = 0

	nodes := single.AllNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, 389, nodes[0].Port)

	multi := validCluster("multi")
	multi.Host = ""
	multi.Port = 0
	multi.Nodes = []Node{{Host: "a", Port: 389}, {Host: "b", Port: 636}}

	assert.Len(t, multi.AllNodes(), 2)
	assert.Equal(t, "a:389", multi.WriteNode().String())
}

func TestNodeLabel(t *testing.T) {
	assert.Equal(t, "named", Node{Host: "a", Port: 389, Name: "named"}.Label())
	assert.Equal(t, "a:389", Node{Host: "a", Port: 389}.Label())
}

func TestDefaultPasswordPolicy(t *testing.T) {
	cluster := validCluster("c")

	policy := cluster.GetPasswordPolicy()
	assert.Equal(t, 0, policy.MinLength)
	assert.True(t, policy.RequireConfirmation)
}

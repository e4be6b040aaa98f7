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

package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/directory"
	"github.com/dirwarden/dirwarden/server/ldapgw"
	"github.com/dirwarden/dirwarden/server/monitor"
	"github.com/dirwarden/dirwarden/server/pool"
	"github.com/dirwarden/dirwarden/server/selector"
	"github.com/dirwarden/dirwarden/server/vault"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T) *Deps {
	t.Helper()

	gin.SetMode(gin.TestMode)

	cluster := &config.Cluster{
		Name:   "c1",
		BindDN: "cn=admin,dc=x",
		BaseDN: "dc=x",
		Nodes: []config.Node{
			{Host: "a", Port: 389},
			{Host: "b", Port: 389},
		},
		TableColumns: map[string][]config.TableColumn{
			"users": {{Attribute: "uid", Label: "Username", Visible: true, Sortable: true}},
		},
	}

	store := config.NewStore(&config.FileSettings{Clusters: []*config.Cluster{cluster}})

	credentialVault, err := vault.New(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	sessionPool := pool.New(pool.Options{IdleTTL: time.Minute})

	gateway := ldapgw.New(ldapgw.Options{
		Settings: store,
		Selector: selector.New(time.Millisecond, nil),
		Pool:     sessionPool,
		Vault:    credentialVault,
	})

	return &Deps{
		Settings: store,
		Env:      &config.EnvSettings{AllowedOrigins: []string{"https://ui.example.org"}},
		Vault:    credentialVault,
		Gateway:  gateway,
		Service:  directory.NewService(gateway, nil),
		Monitor:  monitor.New(gateway, time.Second, nil),
		Pool:     sessionPool,
	}
}

func doRequest(router *gin.Engine, method string, target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, target, nil)
	request.Header.Set("Accept-Encoding", "identity")

	router.ServeHTTP(recorder, request)

	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]any

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "up", body["status"])

	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, checks, "config")
	assert.Contains(t, checks, "vault")
	assert.Contains(t, checks, "pool")
}

func TestListClusters(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/clusters/list")
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Clusters []clusterSummary `json:"clusters"`
	}

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Len(t, body.Clusters, 1)
	assert.Equal(t, "c1", body.Clusters[0].Name)
	assert.Len(t, body.Clusters[0].Nodes, 2)
}

func TestPasswordCheckUncached(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/password/check/c1")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"cached": false}`, recorder.Body.String())

	// Unknown clusters read as uncached rather than erroring.
	recorder = doRequest(router, http.MethodGet, "/api/password/check/ghost")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"cached": false}`, recorder.Body.String())
}

func TestPasswordCheckCached(t *testing.T) {
	deps := newTestDeps(t)
	require.NoError(t, deps.Vault.Store("c1", "pw"))

	router := NewRouter(deps)

	recorder := doRequest(router, http.MethodGet, "/api/password/check/c1")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"cached": true}`, recorder.Body.String())
}

func TestPasswordClearUnknownCluster(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodDelete, "/api/password/cache/ghost")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestClusterColumns(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/clusters/columns/c1")
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string][]config.TableColumn

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Contains(t, body, "users")
	assert.Equal(t, "uid", body["users"][0].Attribute)
}

func TestClusterPasswordPolicyDefaults(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/clusters/password-policy/c1")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"min_length": 0, "require_confirmation": true}`, recorder.Body.String())
}

func TestClusterFormMissing(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/clusters/form/c1")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestEntrySearchRequiresCluster(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/entries/search")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestEntryDeleteRequiresParams(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodDelete, "/api/entries/delete?cluster=c1")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestMonitoringRequiresCluster(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/monitoring/nodes")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCORSWhitelist(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("Origin", "https://ui.example.org")

	router.ServeHTTP(recorder, request)

	assert.Equal(t, "https://ui.example.org", recorder.Header().Get("Access-Control-Allow-Origin"))

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("Origin", "https://evil.example.org")

	router.ServeHTTP(recorder, request)

	assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownClusterIs404(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	recorder := doRequest(router, http.MethodGet, "/api/entries/stats?cluster=ghost")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

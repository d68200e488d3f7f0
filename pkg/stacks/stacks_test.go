package stacks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/types"
)

// fakeControlPlane is an in-memory control plane behind httptest,
// counting every create and update it serves.
type fakeControlPlane struct {
	t         *testing.T
	endpoints []Endpoint
	stacks    []Stack
	configs   []ConfigObject
	nextID    int

	endpointCreates int
	stackCreates    int
	stackUpdates    int
	configCreates   int
	authCalls       int
}

func newFakeControlPlane(t *testing.T) (*fakeControlPlane, *httptest.Server) {
	f := &fakeControlPlane{t: t, nextID: 1}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeControlPlane) id() int {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeControlPlane) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth" {
		f.authCalls++
		var req map[string]string
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		if req["username"] != "admin" || req["password"] != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"jwt": "test-token"})
		return
	}
	if r.Header.Get("Authorization") != "Bearer test-token" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/endpoints" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(f.endpoints)
	case r.URL.Path == "/endpoints" && r.Method == http.MethodPost:
		f.endpointCreates++
		var ep Endpoint
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&ep))
		ep.ID = f.id()
		f.endpoints = append(f.endpoints, ep)
		json.NewEncoder(w).Encode(ep)
	case r.URL.Path == "/stacks" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(f.stacks)
	case r.URL.Path == "/stacks" && r.Method == http.MethodPost:
		f.stackCreates++
		var s Stack
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&s))
		s.ID = f.id()
		f.stacks = append(f.stacks, s)
		json.NewEncoder(w).Encode(s)
	case strings.HasPrefix(r.URL.Path, "/stacks/") && r.Method == http.MethodPut:
		f.stackUpdates++
		id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/stacks/"))
		require.NoError(f.t, err)
		var s Stack
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&s))
		for i := range f.stacks {
			if f.stacks[i].ID == id {
				s.ID = id
				f.stacks[i] = s
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		http.Error(w, "no such stack", http.StatusNotFound)
	case r.URL.Path == "/configs" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(f.configs)
	case r.URL.Path == "/configs" && r.Method == http.MethodPost:
		f.configCreates++
		var c ConfigObject
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&c))
		c.ID = f.id()
		f.configs = append(f.configs, c)
		json.NewEncoder(w).Encode(c)
	default:
		http.Error(w, "unexpected call: "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(config.ControlPlaneSettings{
		URL:      url,
		Username: "admin",
		Password: "secret",
	})
	require.NoError(t, err)
	return c
}

// writeCompose drops a minimal compose document and returns its path
func writeCompose(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func engineStore(t *testing.T, composePath string, configFiles []string) config.Store {
	t.Helper()
	store, err := config.New(
		config.GuestsDoc{Guests: []*types.GuestSpec{
			{
				ID: 920, Name: "app", Kind: types.GuestKindContainer,
				Network: types.NetworkConfig{Address: "10.0.0.20/24"},
				Stacks:  []types.StackRef{{Stack: "vectordb", Environment: "prod"}},
			},
		}},
		config.StacksDoc{Stacks: []*types.StackSpec{
			{
				Name: "vectordb",
				Environments: map[string]types.StackEnvironment{
					"prod": {
						ComposePath: composePath,
						Env:         map[string]string{"TIER": "prod"},
						ConfigFiles: configFiles,
					},
				},
			},
		}},
		config.CertsDoc{},
	)
	require.NoError(t, err)
	return store
}

func engineSettings(url string) config.ControlPlaneSettings {
	return config.ControlPlaneSettings{
		URL:                 url,
		Username:            "admin",
		Password:            "secret",
		EndpointURLTemplate: "tcp://%s:2375",
	}
}

func TestClientRejectsBadCredentials(t *testing.T) {
	_, srv := newFakeControlPlane(t)
	c, err := NewClient(config.ControlPlaneSettings{
		URL:      srv.URL,
		Username: "admin",
		Password: "wrong",
	})
	require.NoError(t, err)
	_, err = c.Endpoints(context.Background())
	assert.ErrorContains(t, err, "auth rejected")
}

func TestSyncCreatesEndpointConfigAndStack(t *testing.T) {
	dir := t.TempDir()
	compose := writeCompose(t, dir, "services:\n  db:\n    image: qdrant/qdrant:latest\n")
	cfgFile := filepath.Join(dir, "tuning.conf")
	require.NoError(t, os.WriteFile(cfgFile, []byte("segments=4\n"), 0o644))

	fake, srv := newFakeControlPlane(t)
	engine := NewEngine(engineStore(t, compose, []string{cfgFile}), testClient(t, srv.URL), engineSettings(srv.URL))

	require.NoError(t, engine.Sync(context.Background()))

	require.Len(t, fake.endpoints, 1)
	assert.Equal(t, "app", fake.endpoints[0].Name)
	assert.Equal(t, "tcp://10.0.0.20:2375", fake.endpoints[0].URL)

	require.Len(t, fake.stacks, 1)
	assert.Equal(t, "vectordb-prod", fake.stacks[0].Name)
	assert.Equal(t, fake.endpoints[0].ID, fake.stacks[0].EndpointID)
	assert.Equal(t, []EnvPair{{Name: "TIER", Value: "prod"}}, fake.stacks[0].Env)

	require.Len(t, fake.configs, 1)
	assert.Equal(t, "vectordb-prod-tuning.conf", fake.configs[0].Name)
	assert.Equal(t, []int{fake.configs[0].ID}, fake.stacks[0].ConfigIDs)
}

func TestSecondSyncPerformsZeroCreates(t *testing.T) {
	dir := t.TempDir()
	compose := writeCompose(t, dir, "services:\n  db:\n    image: qdrant/qdrant:latest\n")
	cfgFile := filepath.Join(dir, "tuning.conf")
	require.NoError(t, os.WriteFile(cfgFile, []byte("segments=4\n"), 0o644))

	fake, srv := newFakeControlPlane(t)
	store := engineStore(t, compose, []string{cfgFile})
	settings := engineSettings(srv.URL)

	require.NoError(t, NewEngine(store, testClient(t, srv.URL), settings).Sync(context.Background()))
	require.NoError(t, NewEngine(store, testClient(t, srv.URL), settings).Sync(context.Background()))

	assert.Equal(t, 1, fake.endpointCreates)
	assert.Equal(t, 1, fake.stackCreates)
	assert.Equal(t, 1, fake.configCreates)
	assert.Equal(t, 0, fake.stackUpdates)
}

func TestChangedComposeUpdatesInPlace(t *testing.T) {
	dir := t.TempDir()
	compose := writeCompose(t, dir, "services:\n  db:\n    image: qdrant/qdrant:v1.0\n")

	fake, srv := newFakeControlPlane(t)
	store := engineStore(t, compose, nil)
	settings := engineSettings(srv.URL)

	require.NoError(t, NewEngine(store, testClient(t, srv.URL), settings).Sync(context.Background()))
	require.NoError(t, os.WriteFile(compose, []byte("services:\n  db:\n    image: qdrant/qdrant:v1.1\n"), 0o644))
	require.NoError(t, NewEngine(store, testClient(t, srv.URL), settings).Sync(context.Background()))

	assert.Equal(t, 1, fake.stackCreates)
	assert.Equal(t, 1, fake.stackUpdates)
	require.Len(t, fake.stacks, 1)
	assert.Contains(t, fake.stacks[0].Compose, "v1.1")
}

func TestSyncRejectsMalformedCompose(t *testing.T) {
	dir := t.TempDir()
	compose := writeCompose(t, dir, "services: [unclosed\n")

	_, srv := newFakeControlPlane(t)
	engine := NewEngine(engineStore(t, compose, nil), testClient(t, srv.URL), engineSettings(srv.URL))

	err := engine.Sync(context.Background())
	assert.Error(t, err)
}

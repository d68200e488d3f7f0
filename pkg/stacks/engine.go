package stacks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/roosthq/roost/pkg/config"
	"github.com/roosthq/roost/pkg/faults"
	"github.com/roosthq/roost/pkg/log"
	"github.com/roosthq/roost/pkg/types"
)

// API is the control-plane surface the engine drives. *Client is the
// production implementation.
type API interface {
	Endpoints(ctx context.Context) ([]Endpoint, error)
	CreateEndpoint(ctx context.Context, name, url string) (Endpoint, error)
	Stacks(ctx context.Context) ([]Stack, error)
	CreateStack(ctx context.Context, in Stack) (Stack, error)
	UpdateStack(ctx context.Context, id int, in Stack) error
	Configs(ctx context.Context) ([]ConfigObject, error)
	CreateConfig(ctx context.Context, name, content string) (ConfigObject, error)
}

// Engine pushes declared (stack, environment, guest) bindings to the
// control plane. Existence is always checked by name before create, so
// a second sync with no declaration changes performs zero creates.
type Engine struct {
	store       config.Store
	api         API
	urlTemplate string
	logger      zerolog.Logger
}

// NewEngine builds a sync engine over the config store and an
// authenticated control-plane client
func NewEngine(store config.Store, api API, settings config.ControlPlaneSettings) *Engine {
	return &Engine{
		store:       store,
		api:         api,
		urlTemplate: settings.EndpointURLTemplate,
		logger:      log.WithComponent("stacks"),
	}
}

// remoteState is a snapshot of the control plane, fetched once per sync
type remoteState struct {
	endpoints map[string]Endpoint
	stacks    map[string]Stack // keyed "endpointID/name"
	configs   map[string]ConfigObject
}

func stackKey(endpointID int, name string) string {
	return fmt.Sprintf("%d/%s", endpointID, name)
}

func (e *Engine) fetchRemote(ctx context.Context) (*remoteState, error) {
	endpoints, err := e.api.Endpoints(ctx)
	if err != nil {
		return nil, faults.Operation("control-plane", "stack-sync", err)
	}
	stacksList, err := e.api.Stacks(ctx)
	if err != nil {
		return nil, faults.Operation("control-plane", "stack-sync", err)
	}
	configs, err := e.api.Configs(ctx)
	if err != nil {
		return nil, faults.Operation("control-plane", "stack-sync", err)
	}

	state := &remoteState{
		endpoints: make(map[string]Endpoint, len(endpoints)),
		stacks:    make(map[string]Stack, len(stacksList)),
		configs:   make(map[string]ConfigObject, len(configs)),
	}
	for _, ep := range endpoints {
		state.endpoints[ep.Name] = ep
	}
	for _, s := range stacksList {
		state.stacks[stackKey(s.EndpointID, s.Name)] = s
	}
	for _, c := range configs {
		state.configs[c.Name] = c
	}
	return state, nil
}

// Sync reconciles every declared stack binding against the control
// plane in guest declaration order.
func (e *Engine) Sync(ctx context.Context) error {
	remote, err := e.fetchRemote(ctx)
	if err != nil {
		return err
	}
	for _, g := range e.store.Guests() {
		for _, ref := range g.Stacks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.syncOne(ctx, g, ref, remote); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) syncOne(ctx context.Context, g *types.GuestSpec, ref types.StackRef, remote *remoteState) error {
	spec, ok := e.store.Stack(ref.Stack)
	if !ok {
		return faults.Config("stack-sync", fmt.Errorf("guest %d references unknown stack %q", g.ID, ref.Stack))
	}
	env, ok := spec.Environments[ref.Environment]
	if !ok {
		return faults.Config("stack-sync", fmt.Errorf("stack %q has no environment %q", ref.Stack, ref.Environment))
	}
	name := ref.Stack + "-" + ref.Environment

	endpoint, err := e.ensureEndpoint(ctx, g, remote)
	if err != nil {
		return err
	}

	compose, err := os.ReadFile(env.ComposePath)
	if err != nil {
		return faults.Operation(name, "stack-compose", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(compose, &doc); err != nil {
		return faults.Config("stack-compose", fmt.Errorf("%s: %w", env.ComposePath, err))
	}

	configIDs, err := e.ensureConfigs(ctx, name, env.ConfigFiles, remote)
	if err != nil {
		return err
	}

	desired := Stack{
		Name:       name,
		EndpointID: endpoint.ID,
		Compose:    string(compose),
		Env:        envPairs(env.Env),
		ConfigIDs:  configIDs,
	}

	existing, ok := remote.stacks[stackKey(endpoint.ID, name)]
	if !ok {
		created, err := e.api.CreateStack(ctx, desired)
		if err != nil {
			return faults.Operation(name, "stack-create", err)
		}
		remote.stacks[stackKey(endpoint.ID, name)] = created
		e.logger.Info().Str("stack", name).Int("endpoint", endpoint.ID).Msg("stack created")
		return nil
	}
	if stackEqual(existing, desired) {
		e.logger.Debug().Str("stack", name).Msg("stack unchanged, skipping")
		return nil
	}
	if err := e.api.UpdateStack(ctx, existing.ID, desired); err != nil {
		return faults.Operation(name, "stack-update", err)
	}
	desired.ID = existing.ID
	remote.stacks[stackKey(endpoint.ID, name)] = desired
	e.logger.Info().Str("stack", name).Int("endpoint", endpoint.ID).Msg("stack updated")
	return nil
}

// ensureEndpoint registers the guest's container engine endpoint if the
// control plane does not know it yet
func (e *Engine) ensureEndpoint(ctx context.Context, g *types.GuestSpec, remote *remoteState) (Endpoint, error) {
	if ep, ok := remote.endpoints[g.Name]; ok {
		return ep, nil
	}
	addr := g.Network.Address
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	if addr == "" {
		return Endpoint{}, faults.Config("stack-sync",
			fmt.Errorf("guest %d declares stacks but no network address", g.ID))
	}
	ep, err := e.api.CreateEndpoint(ctx, g.Name, fmt.Sprintf(e.urlTemplate, addr))
	if err != nil {
		return Endpoint{}, faults.Operation(g.Name, "endpoint-create", err)
	}
	remote.endpoints[g.Name] = ep
	e.logger.Info().Str("endpoint", g.Name).Str("url", ep.URL).Msg("endpoint registered")
	return ep, nil
}

// ensureConfigs uploads the environment's config files, reusing any
// remote object whose content already matches. Returned ids are sorted
// so stack payloads compare stably.
func (e *Engine) ensureConfigs(ctx context.Context, stackName string, files []string, remote *remoteState) ([]int, error) {
	var ids []int
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, faults.Operation(stackName, "stack-config", err)
		}
		name := stackName + "-" + filepath.Base(file)
		if existing, ok := remote.configs[name]; ok && existing.Content == string(content) {
			ids = append(ids, existing.ID)
			continue
		}
		created, err := e.api.CreateConfig(ctx, name, string(content))
		if err != nil {
			return nil, faults.Operation(stackName, "stack-config", err)
		}
		remote.configs[name] = created
		ids = append(ids, created.ID)
	}
	sort.Ints(ids)
	return ids, nil
}

func envPairs(env map[string]string) []EnvPair {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]EnvPair, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, EnvPair{Name: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}

func stackEqual(a, b Stack) bool {
	if a.Compose != b.Compose || len(a.Env) != len(b.Env) || len(a.ConfigIDs) != len(b.ConfigIDs) {
		return false
	}
	for i := range a.Env {
		if a.Env[i] != b.Env[i] {
			return false
		}
	}
	for i := range a.ConfigIDs {
		if a.ConfigIDs[i] != b.ConfigIDs[i] {
			return false
		}
	}
	return true
}

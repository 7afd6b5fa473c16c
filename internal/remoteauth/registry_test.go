package remoteauth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_StartAndStatus(t *testing.T) {
	g := newFakeAuthGateway(t)
	registry := NewRegistry(Options{URL: g.url(), Login: newStubLogin()})

	id := registry.Start()
	g.accept()

	status, ok := registry.Status(id)
	require.True(t, ok)
	assert.NotEqual(t, "", string(status.State))
}

func TestRegistry_UnknownID(t *testing.T) {
	registry := NewRegistry(Options{})

	_, ok := registry.Status(uuid.New())
	assert.False(t, ok)
	assert.False(t, registry.Cancel(uuid.New()))
}

func TestRegistry_CancelStopsFlow(t *testing.T) {
	g := newFakeAuthGateway(t)
	registry := NewRegistry(Options{URL: g.url(), Login: newStubLogin()})

	id := registry.Start()
	g.accept()

	require.True(t, registry.Cancel(id))
	awaitState(t, mustFlow(t, registry, id), StateCancelled)

	status, ok := registry.Status(id)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, status.State)
}

func TestRegistry_SweepsTerminalFlowsOnStart(t *testing.T) {
	g := newFakeAuthGateway(t)
	registry := NewRegistry(Options{URL: g.url(), Login: newStubLogin()})

	first := registry.Start()
	g.accept()
	require.True(t, registry.Cancel(first))
	awaitFlowDone(t, mustFlow(t, registry, first))

	second := registry.Start()
	g.accept()

	_, ok := registry.Status(first)
	assert.False(t, ok, "terminal flow should be swept on the next start")
	_, ok = registry.Status(second)
	assert.True(t, ok)
}

func mustFlow(t *testing.T, r *Registry, id uuid.UUID) *Flow {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	flow, ok := r.sessions[id]
	require.True(t, ok)
	return flow
}

package component

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeComponent records lifecycle calls into a shared log.
type fakeComponent struct {
	name     string
	log      *[]string
	startErr error
	running  bool
}

func (f *fakeComponent) Meta() Metadata { return Metadata{Name: f.name, Type: "processor"} }

func (f *fakeComponent) Initialize() error {
	*f.log = append(*f.log, "init "+f.name)
	return nil
}

func (f *fakeComponent) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	*f.log = append(*f.log, "start "+f.name)
	return nil
}

func (f *fakeComponent) Stop(time.Duration) error {
	f.running = false
	*f.log = append(*f.log, "stop "+f.name)
	return nil
}

func (f *fakeComponent) Health() HealthStatus {
	if f.running {
		return HealthStatus{Healthy: true, Status: StatusName(StateRunning)}
	}
	return HealthStatus{Status: StatusName(StateStopped)}
}

func register(t *testing.T, r *Registry, c *fakeComponent) {
	t.Helper()
	require.NoError(t, r.RegisterWithConfig(RegistrationConfig{
		Name:    c.name,
		Factory: func(Dependencies) (Discoverable, error) { return c, nil },
	}))
}

func TestRegistryLifecycleOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	a := &fakeComponent{name: "a", log: &log}
	b := &fakeComponent{name: "b", log: &log}
	register(t, r, a)
	register(t, r, b)

	_, err := r.Create("a", Dependencies{})
	require.NoError(t, err)
	_, err = r.Create("b", Dependencies{})
	require.NoError(t, err)

	require.NoError(t, r.StartAll(context.Background(), time.Second))
	health := r.Health()
	assert.True(t, health["a"].Healthy)
	assert.True(t, health["b"].Healthy)

	require.NoError(t, r.StopAll(time.Second))
	assert.Equal(t, []string{"init a", "init b", "start a", "start b", "stop b", "stop a"}, log)
}

func TestRegistryStartFailureStopsStarted(t *testing.T) {
	var log []string
	r := NewRegistry()
	register(t, r, &fakeComponent{name: "a", log: &log})
	register(t, r, &fakeComponent{name: "b", log: &log, startErr: errors.New("port in use")})

	_, err := r.Create("a", Dependencies{})
	require.NoError(t, err)
	_, err = r.Create("b", Dependencies{})
	require.NoError(t, err)

	err = r.StartAll(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"init a", "init b", "start a", "stop a"}, log)
}

func TestRegistryRegistration(t *testing.T) {
	r := NewRegistry()
	factory := func(Dependencies) (Discoverable, error) { return nil, errors.New("boom") }

	assert.Error(t, r.RegisterWithConfig(RegistrationConfig{Factory: factory}), "name required")
	assert.Error(t, r.RegisterWithConfig(RegistrationConfig{Name: "x"}), "factory required")
	require.NoError(t, r.RegisterWithConfig(RegistrationConfig{Name: "x", Factory: factory}))
	assert.Error(t, r.RegisterWithConfig(RegistrationConfig{Name: "x", Factory: factory}), "duplicate")

	_, err := r.Create("missing", Dependencies{})
	assert.Error(t, err)

	_, err = r.Create("x", Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, r.Health())
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "running", StatusName(StateRunning))
	assert.Equal(t, "stopped", StatusName(StateStopped))
}

package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/ManyThreads/horme/internal/process"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainer struct {
	config     *container.Config
	hostConfig *container.HostConfig
	running    bool
}

// fakeDocker keeps containers keyed by name; container ids equal names.
type fakeDocker struct {
	containers map[string]*fakeContainer
	calls      []string
	mu         sync.Mutex
}

var _ containerAPI = &fakeDocker{}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{containers: make(map[string]*fakeContainer)}
}

func (f *fakeDocker) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create " + name)
	if _, ok := f.containers[name]; ok {
		return container.CreateResponse{}, errdefs.Conflict(errors.New("name in use"))
	}
	f.containers[name] = &fakeContainer{config: config, hostConfig: hostConfig}
	return container.CreateResponse{ID: name}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start " + id)
	c, ok := f.containers[id]
	if !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	c.running = true
	return nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop " + id)
	c, ok := f.containers[id]
	if !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	c.running = false
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove " + id)
	if _, ok := f.containers[id]; !ok {
		return errdefs.NotFound(errors.New("no such container"))
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return types.ContainerJSON{}, errdefs.NotFound(errors.New("no such container"))
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    id,
			Name:  "/" + id,
			State: &types.ContainerState{Running: c.running},
		},
	}, nil
}

func (f *fakeDocker) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeDocker) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testSpec() *process.Spec {
	return &process.Spec{
		Name:   "horme-bri",
		UUID:   "bri",
		Type:   "light-switch",
		Topic:  "home/bedroom/light-switchbri",
		Driver: DriverType,
		Image:  "horme/light-switch:latest",
		Args:   []string{"--poll", "5"},
		Env: map[string]string{
			"HORME_SERVICE_UUID":  "bri",
			"HORME_SERVICE_TOPIC": "home/bedroom/light-switchbri",
		},
		ExposedPorts: []string{"8080:80/tcp"},
	}
}

func TestDockerDriverStartStop(t *testing.T) {
	ctx := context.Background()
	api := newFakeDocker()
	driver := newDriver(api, "horme_default")
	require.Equal(t, DriverType, driver.Type())

	handle, err := driver.StartProcess(ctx, testSpec())
	require.NoError(t, err)
	assert.Equal(t, "horme-bri", handle.ID)
	assert.Equal(t, DriverType, handle.Driver)

	api.mu.Lock()
	c := api.containers["horme-bri"]
	api.mu.Unlock()
	require.NotNil(t, c)
	assert.Equal(t, "horme/light-switch:latest", c.config.Image)
	assert.Equal(t, []string{"--poll", "5"}, []string(c.config.Cmd))
	assert.Equal(t, []string{
		"HORME_SERVICE_TOPIC=home/bedroom/light-switchbri",
		"HORME_SERVICE_UUID=bri",
	}, c.config.Env)
	assert.Equal(t, "bri", c.config.Labels[hormeLabel])
	assert.Contains(t, c.config.ExposedPorts, nat.Port("80/tcp"))
	assert.Equal(t, container.NetworkMode("horme_default"), c.hostConfig.NetworkMode)
	assert.Equal(t, "8080", c.hostConfig.PortBindings[nat.Port("80/tcp")][0].HostPort)

	running, err := driver.IsRunning(ctx, "horme-bri")
	require.NoError(t, err)
	assert.True(t, running)

	_, err = driver.StartProcess(ctx, testSpec())
	require.ErrorIs(t, err, process.ErrProcessAlreadyRunning)

	require.NoError(t, driver.StopProcess(ctx, "horme-bri"))
	running, err = driver.IsRunning(ctx, "horme-bri")
	require.NoError(t, err)
	assert.False(t, running)

	// A second stop finds nothing; the process manager treats that as success.
	require.ErrorIs(t, driver.StopProcess(ctx, "horme-bri"), process.ErrNoProcFound)
}

func TestDockerDriverRemovesStaleContainer(t *testing.T) {
	ctx := context.Background()
	api := newFakeDocker()
	api.containers["horme-bri"] = &fakeContainer{config: &container.Config{}, running: false}

	spec := testSpec()
	spec.Network = "custom"
	spec.ExposedPorts = nil
	driver := newDriver(api, "")
	_, err := driver.StartProcess(ctx, spec)
	require.NoError(t, err)

	assert.Equal(t, []string{"remove horme-bri", "create horme-bri", "start horme-bri"}, api.Calls())

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, container.NetworkMode("custom"), api.containers["horme-bri"].hostConfig.NetworkMode)
}

func TestDockerDriverStopsExitedContainer(t *testing.T) {
	ctx := context.Background()
	api := newFakeDocker()
	api.containers["horme-fra"] = &fakeContainer{config: &container.Config{}, running: false}

	driver := newDriver(api, "")
	require.NoError(t, driver.StopProcess(ctx, "horme-fra"))
	assert.Equal(t, []string{"remove horme-fra"}, api.Calls())
}

func TestDockerDriverInvalidPorts(t *testing.T) {
	spec := testSpec()
	spec.ExposedPorts = []string{"not-a-port"}
	_, err := newDriver(newFakeDocker(), "").StartProcess(context.Background(), spec)
	require.Error(t, err)
}

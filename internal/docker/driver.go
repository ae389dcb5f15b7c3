package docker

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/ManyThreads/horme/internal/process"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"
)

const (
	DriverType = "docker"

	hormeLabel         = "horme_service_uuid"
	stopTimeoutSeconds = 1
)

// containerAPI is the subset of the docker client used by the driver.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

type dockerDriver struct {
	client  containerAPI
	network string
}

// dockerDriver implements process.Driver
var _ process.Driver = &dockerDriver{}

// NewDriver connects to the docker daemon configured in the environment. Containers join
// network unless their launch config names another one.
func NewDriver(network string) (process.Driver, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return newDriver(dockerClient, network), nil
}

func newDriver(api containerAPI, network string) *dockerDriver {
	return &dockerDriver{
		client:  api,
		network: network,
	}
}

func (d *dockerDriver) Type() string {
	return DriverType
}

// StartProcess helps implement dockerDriver
func (d *dockerDriver) StartProcess(ctx context.Context, spec *process.Spec) (process.Handle, error) {
	if err := d.removeStale(ctx, spec.Name); err != nil {
		return process.Handle{}, err
	}

	exposedPorts, portBindings, err := nat.ParsePortSpecs(spec.ExposedPorts)
	if err != nil {
		return process.Handle{}, fmt.Errorf("invalid exposed ports for %s: %w", spec.Name, err)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
	}
	networkName := d.network
	if spec.Network != "" {
		networkName = spec.Network
	}
	if networkName != "" {
		hostConfig.NetworkMode = container.NetworkMode(networkName)
	}

	createResp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Args,
		Env:          envList(spec.Env),
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			hormeLabel: spec.UUID,
		},
	}, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return process.Handle{}, err
	}

	err = d.client.ContainerStart(ctx, createResp.ID, container.StartOptions{})
	if err != nil {
		return process.Handle{}, err
	}

	log.Info().Str("uuid", spec.UUID).Msgf("Started docker container %s (%s)", spec.Name, createResp.ID)
	go d.followLogs(spec, createResp.ID)

	return process.Handle{ID: spec.Name, Driver: DriverType}, nil
}

// removeStale removes a leftover, no longer running container that would block the name.
func (d *dockerDriver) removeStale(ctx context.Context, name string) error {
	info, err := d.client.ContainerInspect(ctx, name)
	if errdefs.IsNotFound(err) {
		return nil
	} else if err != nil {
		return err
	}
	if info.ContainerJSONBase != nil && info.State != nil && info.State.Running {
		return fmt.Errorf("%w: %s", process.ErrProcessAlreadyRunning, name)
	}
	log.Debug().Msgf("removing stale container %s", name)
	err = d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

func (d *dockerDriver) StopProcess(ctx context.Context, processID string) error {
	info, err := d.client.ContainerInspect(ctx, processID)
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s", process.ErrNoProcFound, processID)
	} else if err != nil {
		return err
	}

	if info.ContainerJSONBase != nil && info.State != nil && info.State.Running {
		timeout := stopTimeoutSeconds
		err = d.client.ContainerStop(ctx, processID, container.StopOptions{Timeout: &timeout})
		if err != nil && !errdefs.IsNotFound(err) {
			return err
		}
	}

	// Continue with the removal even if the container had already stopped.
	err = d.client.ContainerRemove(ctx, processID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

func (d *dockerDriver) IsRunning(ctx context.Context, processID string) (bool, error) {
	info, err := d.client.ContainerInspect(ctx, processID)
	if errdefs.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return info.ContainerJSONBase != nil && info.State != nil && info.State.Running, nil
}

// followLogs forwards the container's output until the container goes away.
func (d *dockerDriver) followLogs(spec *process.Spec, containerID string) {
	logs, err := d.client.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		log.Warn().Err(err).Str("uuid", spec.UUID).Msg("unable to follow container logs")
		return
	}
	defer logs.Close()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go process.ForwardOutput(stdoutR, spec, "stdout")
	go process.ForwardOutput(stderrR, spec, "stderr")

	_, err = stdcopy.StdCopy(stdoutW, stderrW, logs)
	if err != nil {
		log.Debug().Err(err).Str("uuid", spec.UUID).Msg("container log stream closed")
	}
	stdoutW.Close()
	stderrW.Close()
}

func envList(env map[string]string) []string {
	res := make([]string, 0, len(env))
	for k, v := range env {
		res = append(res, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(res)
	return res
}

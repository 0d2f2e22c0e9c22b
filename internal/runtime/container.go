package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/minion"
)

// dockerClient is the subset of *client.Client Container needs, kept as a
// local interface so the adapter is testable without a Docker daemon.
type dockerClient interface {
	ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error)
	ContainerStart(ctx context.Context, id string, opts container.StartOptions) error
	ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig,
		name string) (container.CreateResponse, error)
}

// Container is the Runtime adapter for minions whose runtimeConfig.Kind is
// "container": it ensures a named Docker container exists and is running,
// starting or creating it as needed.
type Container struct {
	docker dockerClient
	logger logging.Logger
}

// NewContainer constructs a Container adapter backed by the Docker daemon
// reachable via the standard DOCKER_HOST/TLS environment.
func NewContainer(logger logging.Logger) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("runtime: docker client: %w", err)
	}
	return &Container{docker: &sdkClient{cli}, logger: logging.OrNop(logger)}, nil
}

// NewContainerWithClient is the test/DI seam: inject a fake dockerClient.
func NewContainerWithClient(docker dockerClient, logger logging.Logger) *Container {
	return &Container{docker: docker, logger: logging.OrNop(logger)}
}

// containerName derives the container name minions of this kind run under.
// One minion maps to one container, named deterministically so repeated
// EnsureReady calls are idempotent.
func containerName(m minion.Minion) string {
	return "minion-" + strings.ToLower(m.ID)
}

func (c *Container) EnsureReady(ctx context.Context, m minion.Minion, onStatus StatusFunc) error {
	name := containerName(m)
	emit(onStatus, m.ID, StatusChecking, name)

	info, err := c.docker.ContainerInspect(ctx, name)
	switch {
	case err == nil:
		if info.State != nil && info.State.Running {
			emit(onStatus, m.ID, StatusReady, name)
			return nil
		}
		emit(onStatus, m.ID, StatusStarting, name)
		if startErr := c.docker.ContainerStart(ctx, name, container.StartOptions{}); startErr != nil {
			c.logger.Warn("runtime: container start failed", "minionId", m.ID, "container", name, "error", startErr)
			werr := errutil.NewMinionError(errutil.KindRuntimeStartFailed, m.ID, "", startErr)
			emit(onStatus, m.ID, StatusFailed, werr.Error())
			return werr
		}
		emit(onStatus, m.ID, StatusReady, name)
		return nil

	case errdefs.IsNotFound(err):
		emit(onStatus, m.ID, StatusStarting, name)
		if createErr := c.createAndStart(ctx, m, name); createErr != nil {
			c.logger.Warn("runtime: container create failed", "minionId", m.ID, "container", name, "error", createErr)
			werr := errutil.NewMinionError(errutil.KindRuntimeStartFailed, m.ID, "", createErr)
			emit(onStatus, m.ID, StatusFailed, werr.Error())
			return werr
		}
		emit(onStatus, m.ID, StatusReady, name)
		return nil

	default:
		werr := errutil.NewMinionError(errutil.KindRuntimeNotReady, m.ID, "", err)
		emit(onStatus, m.ID, StatusFailed, werr.Error())
		return werr
	}
}

func (c *Container) createAndStart(ctx context.Context, m minion.Minion, name string) error {
	env := make([]string, 0, len(m.RuntimeConfig.Env))
	for k, v := range m.RuntimeConfig.Env {
		env = append(env, k+"="+v)
	}
	exposed, bindings, err := publishedPorts(m.RuntimeConfig.Ports)
	if err != nil {
		return fmt.Errorf("container create: %w", err)
	}
	cfg := &container.Config{
		Image:        m.RuntimeConfig.Image,
		Env:          env,
		Tty:          false,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{PortBindings: bindings}
	resp, err := c.docker.ContainerCreate(ctx, cfg, hostCfg, name)
	if err != nil {
		return fmt.Errorf("container create: %w", err)
	}
	return c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
}

// publishedPorts builds the ExposedPorts/PortBindings pair for ports,
// publishing each one to the same port number on the host loopback.
func publishedPorts(ports []int) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for _, p := range ports {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", p))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %d: %w", p, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: port.Port()}}
	}
	return exposed, bindings, nil
}

// sdkClient adapts *client.Client (the real Docker SDK) to dockerClient.
type sdkClient struct {
	cli *client.Client
}

func (s *sdkClient) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	return s.cli.ContainerInspect(ctx, id)
}

func (s *sdkClient) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	return s.cli.ContainerStart(ctx, id, opts)
}

func (s *sdkClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig,
	name string) (container.CreateResponse, error) {
	return s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
}

package sandbox

import (
	"bytes"
	"context"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"
	"io"
)

const stopGracePeriod = 5 // seconds

type dockerRuntime struct {
	client client.APIClient
}

// NewDockerRuntime connects to the engine described by the DOCKER_*
// environment variables.
func NewDockerRuntime() (ContainerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	return &dockerRuntime{client: cli}, nil
}

func (r *dockerRuntime) Run(ctx context.Context, spec ContainerSpec) (string, error) {
	port := nat.Port(spec.Port + "/tcp")
	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: spec.HostIP}},
		},
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			CPUPeriod: spec.CPUPeriod,
			CPUQuota:  spec.CPUQuota,
		},
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if errdefs.IsNotFound(err) {
		if err := r.pull(ctx, spec.Image); err != nil {
			return "", err
		}
		resp, err = r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	}
	if err != nil {
		return "", errors.Wrap(err, "create container")
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, errors.Wrap(err, "start container")
	}
	return resp.ID, nil
}

func (r *dockerRuntime) pull(ctx context.Context, ref string) error {
	rc, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pull image %s", ref)
	}
	defer rc.Close()
	// the pull completes when the progress stream ends
	_, err = io.Copy(io.Discard, rc)
	return errors.Wrapf(err, "pull image %s", ref)
}

func (r *dockerRuntime) Inspect(ctx context.Context, id, port string) (ContainerState, error) {
	info, err := r.client.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, err
	}

	var state ContainerState
	if info.State != nil {
		state.Running = info.State.Running
		state.Status = info.State.Status
		state.ExitCode = info.State.ExitCode
	}
	if info.NetworkSettings != nil {
		for _, binding := range info.NetworkSettings.Ports[nat.Port(port+"/tcp")] {
			if binding.HostPort != "" {
				state.HostPort = binding.HostPort
				break
			}
		}
	}
	return state, nil
}

func (r *dockerRuntime) Logs(ctx context.Context, id string) (string, error) {
	rc, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (r *dockerRuntime) Remove(ctx context.Context, id string) error {
	timeout := stopGracePeriod
	if err := r.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

package containerdriver

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/nat"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/ploinky/ploinky/internal/common/config"
	"github.com/ploinky/ploinky/internal/common/logger"
)

// DockerDriver implements Driver against the Docker Engine API. Because
// Podman exposes a Docker-compatible API socket, the same client talks to
// either runtime — only the advertised runtime name and a couple of
// escape-hatch flags differ.
type DockerDriver struct {
	cli     *client.Client
	runtime string
	log     *logger.Logger
}

var _ Driver = (*DockerDriver)(nil)

// NewDockerDriver connects to the engine at cfg.Host, pings it, and tags
// itself with the runtime name Detect() returned.
func NewDockerDriver(cfg config.DockerConfig, runtimeName string, log *logger.Logger) (*DockerDriver, error) {
	opts := []client.Opt{
		client.WithHost(cfg.Host),
		client.WithVersion(cfg.APIVersion),
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create container runtime client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, newRuntimeError(KindNoRuntime, err)
	}

	return &DockerDriver{
		cli:     cli,
		runtime: runtimeName,
		log:     log.WithComponent("container-driver"),
	}, nil
}

func (d *DockerDriver) Runtime() string { return d.runtime }

func (d *DockerDriver) Create(ctx context.Context, spec CreateSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	exposedPorts := make(nat.PortSet)
	portBindings := make(nat.PortMap)
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
		exposedPorts[port] = struct{}{}
		portBindings[port] = append(portBindings[port], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: strconv.Itoa(p.HostPort),
		})
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Entrypoint:   spec.Entrypoint,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: exposedPorts,
	}

	hostCfg := &container.HostConfig{PortBindings: portBindings}
	for _, m := range spec.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly && m.SELinuxRelabel {
			bind += ":ro,z"
		} else if m.ReadOnly {
			bind += ":ro"
		} else if m.SELinuxRelabel {
			bind += ":z"
		}
		hostCfg.Binds = append(hostCfg.Binds, bind)
	}
	if spec.AllowHostLoopback && d.runtime == "podman" {
		hostCfg.NetworkMode = "slirp4netns:allow_host_loopback=true"
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "short-name") {
			if d.runtime == "podman" && !strings.Contains(spec.Image, "/") {
				retrySpec := spec
				retrySpec.Image = "docker.io/library/" + spec.Image
				return d.Create(ctx, retrySpec)
			}
			return "", newRuntimeError(KindShortNameError, err)
		}
		if client.IsErrNotFound(err) {
			return "", newRuntimeError(KindImagePullFailed, err)
		}
		return "", newRuntimeError(KindOther, err)
	}

	return resp.ID, nil
}

func (d *DockerDriver) Start(ctx context.Context, name string) error {
	info, err := d.Inspect(ctx, name)
	if err == nil && info.Running() {
		return newRuntimeError(KindAlreadyRunning, nil)
	}
	if err := d.cli.ContainerStart(ctx, name, types.ContainerStartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return newRuntimeError(KindNotFound, err)
		}
		return newRuntimeError(KindOther, err)
	}
	return nil
}

func (d *DockerDriver) Stop(ctx context.Context, name string, signal string) error {
	if signal == "" {
		signal = "SIGTERM"
	}
	timeout := 10
	err := d.cli.ContainerStop(ctx, name, container.StopOptions{Signal: signal, Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return newRuntimeError(KindOther, err)
	}
	return nil
}

func (d *DockerDriver) Kill(ctx context.Context, name string) error {
	err := d.cli.ContainerKill(ctx, name, "SIGKILL")
	if err != nil && !client.IsErrNotFound(err) {
		return newRuntimeError(KindOther, err)
	}
	return nil
}

func (d *DockerDriver) Remove(ctx context.Context, name string, force bool) error {
	if force {
		_ = d.Kill(ctx, name)
	}
	err := d.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: force})
	if err != nil && !client.IsErrNotFound(err) {
		return newRuntimeError(KindOther, err)
	}
	return nil
}

func (d *DockerDriver) Restart(ctx context.Context, name string) error {
	timeout := 10
	if err := d.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return newRuntimeError(KindOther, err)
	}
	return nil
}

func (d *DockerDriver) Exec(ctx context.Context, name string, argv []string, opts ExecOptions) (*ExecResult, error) {
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	execCfg := types.ExecConfig{
		Cmd:          argv,
		Env:          env,
		Tty:          opts.TTY,
		WorkingDir:   opts.WorkDir,
		AttachStdout: !opts.Detach,
		AttachStderr: !opts.Detach,
	}

	created, err := d.cli.ContainerExecCreate(ctx, name, execCfg)
	if err != nil {
		return nil, newRuntimeError(KindOther, err)
	}

	if opts.Detach {
		if err := d.cli.ContainerExecStart(ctx, created.ID, types.ExecStartCheck{}); err != nil {
			return nil, newRuntimeError(KindOther, err)
		}
		return &ExecResult{}, nil
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{Tty: opts.TTY})
	if err != nil {
		return nil, newRuntimeError(KindOther, err)
	}
	defer attach.Close()

	stdout, stderr, readErr := demultiplexStream(attach.Reader, opts.TTY)

	result := &ExecResult{Stdout: stdout, Stderr: stderr}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = 124
		return result, nil
	}
	if readErr != nil && readErr != io.EOF {
		return result, newRuntimeError(KindOther, readErr)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return result, newRuntimeError(KindOther, err)
	}
	result.ExitCode = inspect.ExitCode

	return result, nil
}

func (d *DockerDriver) Inspect(ctx context.Context, name string) (*ContainerInfo, error) {
	raw, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, newRuntimeError(KindNotFound, err)
		}
		return nil, newRuntimeError(KindOther, err)
	}

	info := &ContainerInfo{
		ID:     raw.ID,
		Name:   strings.TrimPrefix(raw.Name, "/"),
		Labels: raw.Config.Labels,
		Ports:  make(map[string]string),
	}
	if raw.State != nil {
		info.Status = raw.State.Status
	}
	if raw.NetworkSettings != nil {
		for portKey, bindings := range raw.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			info.Ports[string(portKey)] = bindings[0].HostIP + ":" + bindings[0].HostPort
		}
	}
	for _, m := range raw.Mounts {
		info.Mounts = append(info.Mounts, Mount{
			Source:   m.Source,
			Target:   m.Destination,
			ReadOnly: !m.RW,
		})
	}

	return info, nil
}

func (d *DockerDriver) Port(ctx context.Context, name string, containerPort string) (string, error) {
	info, err := d.Inspect(ctx, name)
	if err != nil {
		return "", err
	}
	if !strings.Contains(containerPort, "/") {
		containerPort += "/tcp"
	}
	hostPort, ok := info.Ports[containerPort]
	if !ok {
		return "", newRuntimeError(KindNotFound, fmt.Errorf("no host binding for %s", containerPort))
	}
	return hostPort, nil
}

func (d *DockerDriver) List(ctx context.Context) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, newRuntimeError(KindOther, err)
	}
	names := make([]string, 0, len(containers))
	for _, c := range containers {
		for _, n := range c.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
	}
	return names, nil
}

func (d *DockerDriver) Logs(ctx context.Context, name string, tail int) (string, error) {
	tailStr := "all"
	if tail > 0 {
		tailStr = strconv.Itoa(tail)
	}
	reader, err := d.cli.ContainerLogs(ctx, name, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailStr,
	})
	if err != nil {
		return "", newRuntimeError(KindOther, err)
	}
	defer reader.Close()

	stdout, stderr, err := demultiplexStream(reader, false)
	if err != nil && err != io.EOF {
		return "", newRuntimeError(KindOther, err)
	}
	return stdout + stderr, nil
}

// demultiplexStream reads Docker's multiplexed attach/logs stream: an
// 8-byte header (stream-type byte, 3 reserved bytes, 4-byte big-endian
// payload size) precedes every frame, unless the exec/attach was created
// with a TTY, in which case the stream is already plain text.
func demultiplexStream(r io.Reader, tty bool) (stdout, stderr string, err error) {
	if tty {
		var buf bytes.Buffer
		_, err = io.Copy(&buf, r)
		return buf.String(), "", err
	}

	var outBuf, errBuf bytes.Buffer
	header := make([]byte, 8)
	for {
		if _, err = io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			break
		}
		streamType := header[0]
		size := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, size)
		if _, err = io.ReadFull(r, payload); err != nil {
			break
		}
		switch streamType {
		case 2:
			errBuf.Write(payload)
		default:
			outBuf.Write(payload)
		}
	}
	return outBuf.String(), errBuf.String(), err
}

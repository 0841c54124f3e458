// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package container

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"boxsh/pkg/gateway/errtax"
	"boxsh/pkg/gateway/monitor"
)

const containerdNamespace = "boxsh"

// ContainerdController is the alternate Controller backend, provisioning
// sessions via containerd's task/exec API rather than the Docker Engine
// API. Selected by the container_runtime=containerd config value.
type ContainerdController struct {
	client *containerd.Client
	cfg    Config

	mu    sync.Mutex
	tasks map[string]containerd.Task // handle.ID -> running task
}

// NewContainerdController builds a ContainerdController around an
// already-dialed containerd client.
func NewContainerdController(client *containerd.Client, cfg Config) (*ContainerdController, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	return &ContainerdController{client: client, cfg: cfg.WithDefaults(), tasks: make(map[string]containerd.Task)}, nil
}

func (c *ContainerdController) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, containerdNamespace)
}

// EnsureImageAvailable pulls c.cfg.Image if it is not already present in
// the content store.
func (c *ContainerdController) EnsureImageAvailable(ctx context.Context) error {
	ctx = c.ctx(ctx)

	if _, err := c.client.GetImage(ctx, c.cfg.Image); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return errtax.New(errtax.RuntimeUnavailable, err)
	}

	logger.Infof("pulling image %s via containerd", c.cfg.Image)

	if _, err := c.client.Pull(ctx, c.cfg.Image, containerd.WithPullUnpack); err != nil {
		return errtax.New(errtax.RuntimeUnavailable, fmt.Errorf("pull image %s: %w", c.cfg.Image, err))
	}

	return nil
}

// Provision creates and starts a running container task from the fixed
// image under the configured resource limits, with an idle /bin/bash as
// its PID 1.
func (c *ContainerdController) Provision(ctx context.Context, username string) (Handle, error) {
	ctx = c.ctx(ctx)
	name := ContainerName(username)

	image, err := c.client.GetImage(ctx, c.cfg.Image)
	if err != nil {
		return Handle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("resolve image %s: %w", c.cfg.Image, err))
	}

	limit := uint64(c.cfg.MemoryMB) * 1024 * 1024

	cont, err := c.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-rootfs", image),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs(Shell),
			oci.WithTTY,
			oci.WithEnv([]string{"TERM=xterm", "SHELL=" + Shell}),
			oci.WithMemoryLimit(limit),
			withNanoCPUs(c.cfg.NanoCPUs),
		),
	)
	if err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return Handle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("create container %s: %w", name, err))
	}

	task, err := cont.NewTask(ctx, cio.NullIO)
	if err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return Handle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("create task for %s: %w", name, err))
	}

	if err := task.Start(ctx); err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return Handle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("start task for %s: %w", name, err))
	}

	c.mu.Lock()
	c.tasks[cont.ID()] = task
	c.mu.Unlock()

	monitor.ActiveContainers.Inc()

	return Handle{ID: cont.ID(), Name: name}, nil
}

// OpenExec starts a TTY-backed /bin/bash exec process inside handle's
// container task, wired to an in-memory duplex stream.
func (c *ContainerdController) OpenExec(ctx context.Context, handle Handle) (ExecHandle, error) {
	ctx = c.ctx(ctx)

	c.mu.Lock()
	task, ok := c.tasks[handle.ID]
	c.mu.Unlock()

	if !ok {
		return ExecHandle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("no running task for %s", handle.Name))
	}

	stream := newDuplexPipe()

	execID := handle.ID + "-shell"

	process, err := task.Exec(ctx, execID, &specs.Process{
		Args:     []string{Shell},
		Terminal: true,
		Env:      []string{"TERM=xterm", "SHELL=" + Shell},
		Cwd:      "/",
	}, cio.NewCreator(cio.WithStreams(stream.execReader, stream.execWriter, nil), cio.WithTerminal))
	if err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return ExecHandle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("exec create in %s: %w", handle.Name, err))
	}

	if err := process.Start(ctx); err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return ExecHandle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("exec start in %s: %w", handle.Name, err))
	}

	stream.process = process

	return ExecHandle{ID: execID, Stream: stream}, nil
}

// Resize changes the TTY window size of the exec'd process.
func (c *ContainerdController) Resize(ctx context.Context, exec ExecHandle, cols, rows int) error {
	stream, ok := exec.Stream.(*duplexPipe)
	if !ok || stream.process == nil {
		return errtax.New(errtax.ResizeFailed, fmt.Errorf("exec handle has no resizable process"))
	}

	if err := stream.process.Resize(ctx, uint32(cols), uint32(rows)); err != nil {
		monitor.ResizeFailures.WithLabelValues().Inc()

		return errtax.New(errtax.ResizeFailed, err)
	}

	return nil
}

// Teardown kills the container's task then deletes the container. Both
// steps are attempted independently of one another's success.
func (c *ContainerdController) Teardown(ctx context.Context, handle Handle) error {
	ctx = c.ctx(ctx)

	var partial bool

	c.mu.Lock()
	task, ok := c.tasks[handle.ID]
	delete(c.tasks, handle.ID)
	c.mu.Unlock()

	if ok {
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			logger.WithField("container", handle.Name).Warnf("delete task error: %v", err)

			partial = true
		}
	}

	cont, err := c.client.LoadContainer(ctx, handle.ID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			if ok {
				monitor.ActiveContainers.Dec()
			}

			if partial {
				monitor.TeardownPartial.WithLabelValues().Inc()

				return errtax.New(errtax.TeardownPartial, fmt.Errorf("teardown of %s was partial", handle.Name))
			}

			return nil
		}

		logger.WithField("container", handle.Name).Warnf("load container error: %v", err)
		monitor.ActiveContainers.Dec()
		monitor.TeardownPartial.WithLabelValues().Inc()

		return errtax.New(errtax.TeardownPartial, err)
	}

	if err := cont.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		logger.WithField("container", handle.Name).Warnf("delete container error: %v", err)

		partial = true
	}

	monitor.ActiveContainers.Dec()

	if partial {
		monitor.TeardownPartial.WithLabelValues().Inc()

		return errtax.New(errtax.TeardownPartial, fmt.Errorf("teardown of %s was partial", handle.Name))
	}

	logger.WithField("container", handle.Name).Infof("teardown complete")

	return nil
}

// withNanoCPUs sets a CPU quota on the OCI spec equivalent to nanoCPUs
// (nano-CPU-seconds per second), the same unit Docker's NanoCPUs field
// uses, over a 100ms period.
func withNanoCPUs(nanoCPUs int64) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *oci.Spec) error {
		if s.Linux == nil {
			s.Linux = &specs.Linux{}
		}

		if s.Linux.Resources == nil {
			s.Linux.Resources = &specs.LinuxResources{}
		}

		period := uint64(100000)
		quota := nanoCPUs / 10000 // nano-CPUs -> microseconds of CPU time per 100ms period

		s.Linux.Resources.CPU = &specs.LinuxCPU{
			Period: &period,
			Quota:  &quota,
		}

		return nil
	}
}

// duplexPipe adapts containerd's split stdin/stdout cio.Creator callback
// pair into the single io.ReadWriteCloser ExecHandle.Stream expects, and
// carries the containerd Process so Resize can reach it.
type duplexPipe struct {
	execReader io.Reader
	execWriter io.Writer

	stdinW  io.WriteCloser
	stdoutR io.ReadCloser

	process containerd.Process
}

func newDuplexPipe() *duplexPipe {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	return &duplexPipe{
		execReader: stdinR,
		execWriter: stdoutW,
		stdinW:     stdinW,
		stdoutR:    stdoutR,
	}
}

func (d *duplexPipe) Read(p []byte) (int, error)  { return d.stdoutR.Read(p) }
func (d *duplexPipe) Write(p []byte) (int, error) { return d.stdinW.Write(p) }

func (d *duplexPipe) Close() error {
	_ = d.stdinW.Close()

	return d.stdoutR.Close()
}

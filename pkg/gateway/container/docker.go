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
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	imageTypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"boxsh/pkg/common/logutil"
	"boxsh/pkg/common/sessionutil"
	"boxsh/pkg/gateway/errtax"
	"boxsh/pkg/gateway/monitor"
)

var logger = logutil.GetLogger("boxsh-container")

// DockerController is the primary Controller backend, provisioning
// sessions via the Docker Engine API.
type DockerController struct {
	cli client.CommonAPIClient
	cfg Config
}

// NewDockerController builds a DockerController around an already-dialed
// Docker client.
func NewDockerController(cli client.CommonAPIClient, cfg Config) (*DockerController, error) {
	if cli == nil {
		return nil, ErrNilClient
	}

	return &DockerController{cli: cli, cfg: cfg.WithDefaults()}, nil
}

// EnsureImageAvailable pulls c.cfg.Image if it is not already present
// locally. Grounded on the teacher's sidecar.PullMissingImage.
func (c *DockerController) EnsureImageAvailable(ctx context.Context) error {
	exists, err := c.imageExists(ctx)
	if err != nil {
		return errtax.New(errtax.RuntimeUnavailable, err)
	}

	if exists {
		return nil
	}

	logger.Infof("pulling image %s", c.cfg.Image)

	body, err := c.cli.ImagePull(ctx, c.cfg.Image, imageTypes.PullOptions{RegistryAuth: base64.URLEncoding.EncodeToString(nil)})
	if err != nil {
		return errtax.New(errtax.RuntimeUnavailable, fmt.Errorf("pull image %s: %w", c.cfg.Image, err))
	}
	defer body.Close()

	br := bufio.NewReader(body)

	for {
		line, _, err := br.ReadLine()
		if err == io.EOF {
			break
		}

		if err != nil {
			return errtax.New(errtax.RuntimeUnavailable, fmt.Errorf("read image pull output: %w", err))
		}

		logger.Debugf("%s", string(line))
	}

	if _, _, err := c.cli.ImageInspectWithRaw(ctx, c.cfg.Image); err != nil {
		return errtax.New(errtax.RuntimeUnavailable, fmt.Errorf("image %s not present after pull: %w", c.cfg.Image, err))
	}

	logger.Infof("image %s is ready", c.cfg.Image)

	return nil
}

func (c *DockerController) imageExists(ctx context.Context) (bool, error) {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, c.cfg.Image)
	if err == nil {
		return true, nil
	}

	if client.IsErrNotFound(err) {
		return false, nil
	}

	return false, err
}

// Provision creates a detached, TTY-enabled, resource-limited container
// running an idle /bin/bash as PID 1. See SPEC_FULL.md §9 for why PID 1
// is left idle rather than being the interactive shell itself.
func (c *DockerController) Provision(ctx context.Context, username string) (Handle, error) {
	name := ContainerName(username)

	contConfig := &container.Config{
		Image:        c.cfg.Image,
		Cmd:          []string{Shell},
		Tty:          true,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Env: []string{
			"TERM=xterm",
			"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"SHELL=" + Shell,
		},
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		Resources: container.Resources{
			NanoCPUs: c.cfg.NanoCPUs,
			Memory:   c.cfg.MemoryMB * 1024 * 1024,
		},
	}

	created, err := c.cli.ContainerCreate(ctx, contConfig, hostConfig, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return Handle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("create container: %s", sessionutil.WrapContainerError(err.Error(), name)))
	}

	if err := c.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return Handle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("start container %s: %w", name, err))
	}

	monitor.ActiveContainers.Inc()
	logger.WithField("container", name).Infof("provisioned container %s", created.ID)

	return Handle{ID: created.ID, Name: name}, nil
}

// OpenExec creates a TTY-backed /bin/bash exec instance inside handle's
// container and attaches it in socket mode, so both directions are a
// single full-duplex byte stream.
func (c *DockerController) OpenExec(ctx context.Context, handle Handle) (ExecHandle, error) {
	execConfig := types.ExecConfig{
		Cmd:          []string{Shell},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := c.cli.ContainerExecCreate(ctx, handle.ID, execConfig)
	if err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return ExecHandle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("create exec in %s: %w", handle.Name, err))
	}

	attached, err := c.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{Tty: true})
	if err != nil {
		monitor.ProvisionFailures.WithLabelValues().Inc()

		return ExecHandle{}, errtax.New(errtax.ProvisionFailed, fmt.Errorf("attach exec in %s: %w", handle.Name, err))
	}

	return ExecHandle{ID: created.ID, Stream: attached.Conn}, nil
}

// Resize is best-effort: a failure is reported to the caller for logging
// but must never be treated as fatal to the session.
func (c *DockerController) Resize(ctx context.Context, exec ExecHandle, cols, rows int) error {
	err := c.cli.ContainerExecResize(ctx, exec.ID, container.ResizeOptions{
		Height: uint(rows),
		Width:  uint(cols),
	})
	if err != nil {
		monitor.ResizeFailures.WithLabelValues().Inc()

		return errtax.New(errtax.ResizeFailed, err)
	}

	return nil
}

// Teardown kills then removes handle's container. Both steps run
// independently of one another's success; a second call on an
// already-removed handle is a no-op.
func (c *DockerController) Teardown(ctx context.Context, handle Handle) error {
	var partial bool

	if err := c.cli.ContainerKill(ctx, handle.ID, "KILL"); err != nil && !isAlreadyGone(err) {
		logger.WithField("container", handle.Name).Warnf("kill container error: %v", err)

		partial = true
	}

	alreadyRemoved := false

	if err := c.cli.ContainerRemove(ctx, handle.ID, container.RemoveOptions{Force: true}); err != nil {
		if isAlreadyGone(err) {
			alreadyRemoved = true
		} else {
			logger.WithField("container", handle.Name).Warnf("remove container error: %v", err)

			partial = true
		}
	}

	if !alreadyRemoved {
		monitor.ActiveContainers.Dec()
	}

	if partial {
		monitor.TeardownPartial.WithLabelValues().Inc()

		return errtax.New(errtax.TeardownPartial, fmt.Errorf("teardown of %s was partial", handle.Name))
	}

	logger.WithField("container", handle.Name).Infof("teardown complete")

	return nil
}

func isAlreadyGone(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "No such container") || strings.Contains(msg, "not found") || client.IsErrNotFound(err)
}

// ContainerName builds the fixed-format container name for username,
// session_<username>_<uuid-v4>.
func ContainerName(username string) string {
	return fmt.Sprintf("session_%s_%s", username, uuid.NewString())
}

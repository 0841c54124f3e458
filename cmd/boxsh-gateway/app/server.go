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

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	"github.com/sirupsen/logrus"

	"boxsh/pkg/common/logutil"
	"boxsh/pkg/common/sessionutil"
	"boxsh/pkg/gateway/container"
	"boxsh/pkg/gateway/creds"
	"boxsh/pkg/gateway/monitor"
	"boxsh/pkg/gateway/sshserver"
)

// runServer configures and starts the boxsh-gateway server: it loads
// credentials, builds the configured container backend, then runs the SSH
// front-end and the metrics HTTP listener side by side until ctx is
// cancelled by a signal.
func runServer(opt *Option) error {
	level, err := logrus.ParseLevel(opt.LogConfig.Level)
	if err != nil {
		return err
	}

	logutil.SetLevel(level)
	logutil.SetExpireDay(opt.LogConfig.ExpireDays)

	logGlobalConfig(opt)

	store, err := creds.Load(opt.CredentialFile)
	if err != nil {
		return fmt.Errorf("load credential file: %w", err)
	}

	ctrl, err := buildController(opt)
	if err != nil {
		return fmt.Errorf("build container controller: %w", err)
	}

	ctx := setupSignal()

	if err := ctrl.EnsureImageAvailable(ctx); err != nil {
		return fmt.Errorf("ensure image available: %w", err)
	}

	sshSrv, err := sshserver.New(sshserver.Config{
		ListenAddr:  opt.ListenAddr,
		HostKeyPath: opt.HostKeyPath,
	}, store, ctrl)
	if err != nil {
		return fmt.Errorf("build ssh server: %w", err)
	}

	metricsSrv := monitor.NewServer(opt.MetricsAddr)

	errCh := make(chan error, 2)

	go func() { errCh <- sshSrv.Serve(ctx) }()
	go func() { errCh <- metricsSrv.ListenAndServe(ctx) }()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(opt.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	sshSrv.Shutdown(shutdownCtx)

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			logrus.Warnf("server exited with error: %v", err)
		}
	}

	return nil
}

// buildController constructs the configured Controller backend, defaulting
// to Docker.
func buildController(opt *Option) (container.Controller, error) {
	switch container.Runtime(opt.ContainerRuntime) {
	case container.RuntimeContainerd:
		cli, err := containerd.New(opt.ContainerdAddress)
		if err != nil {
			return nil, fmt.Errorf("dial containerd: %w", err)
		}

		return container.NewContainerdController(cli, opt.ContainerConfig)
	default:
		cli, err := sessionutil.CreateDockerClient(opt.DockerHost, opt.DockerAPIVersion)
		if err != nil {
			return nil, fmt.Errorf("dial docker: %w", err)
		}

		return container.NewDockerController(cli, opt.ContainerConfig)
	}
}

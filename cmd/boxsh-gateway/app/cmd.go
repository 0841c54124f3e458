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

// Package app wires the boxsh-gateway binary together: config loading,
// signal handling, and the top-level run loop.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"boxsh/pkg/common/logutil"
	"boxsh/pkg/common/sessionutil"
	"boxsh/pkg/gateway/container"
)

// Option defines the options for the boxsh-gateway server.
type Option struct {
	// ListenAddr is the SSH front-end's TCP listen address, e.g. ":2222".
	ListenAddr string `toml:"listen_addr"`

	// HostKeyPath is the persistent SSH host key's path.
	HostKeyPath string `toml:"host_key_path"`

	// CredentialFile is the flat-file bcrypt credential store's path.
	CredentialFile string `toml:"credential_file"`

	// MetricsAddr is the Prometheus /metrics HTTP listen address.
	MetricsAddr string `toml:"metrics_addr"`

	// ContainerRuntime selects the Controller backend: "docker" (default)
	// or "containerd".
	ContainerRuntime string `toml:"container_runtime"`

	// DockerHost is the Docker Engine API endpoint, e.g.
	// "unix:///var/run/docker.sock".
	DockerHost string `toml:"docker_host"`

	// DockerAPIVersion pins the Docker Engine API version negotiated by
	// the client.
	DockerAPIVersion string `toml:"docker_api_version"`

	// ContainerdAddress is the containerd gRPC socket, e.g.
	// "/run/containerd/containerd.sock".
	ContainerdAddress string `toml:"containerd_address"`

	// ShutdownTimeoutSeconds bounds how long graceful shutdown waits for
	// in-flight session teardowns before the process exits anyway.
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`

	LogConfig       logutil.Config  `toml:"log_config"`
	ContainerConfig container.Config `toml:"container_config"`
}

var (
	// Version is set at build time via -ldflags.
	Version    string
	configPath string
)

// NewCommand creates and returns the boxsh-gateway cobra command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boxsh-gateway",
		Short: "boxsh-gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			var options Option
			if err := loadConfigFromToml(&options); err != nil {
				return fmt.Errorf("failed to load config from toml: %w", err)
			}

			return runServer(&options)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.toml", "path to the config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Display the current version of boxsh-gateway",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
	cmd.AddCommand(versionCmd)

	return cmd
}

// loadConfigFromToml loads the configuration from the given TOML file and
// applies defaults (listen and metrics addresses, host key path,
// credential file, container runtime, shutdown timeout, log level) for
// anything left unset, since a minimal config.toml should still produce a
// runnable gateway.
func loadConfigFromToml(config *Option) error {
	_, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", configPath, err)
	}

	if config.ListenAddr == "" {
		config.ListenAddr = ":2222"
	}

	if config.MetricsAddr == "" {
		config.MetricsAddr = ":19104"
	}

	if config.HostKeyPath == "" {
		config.HostKeyPath = "ssh_host_key"
	}

	if config.CredentialFile == "" {
		config.CredentialFile = "users.txt"
	}

	if config.LogConfig.Level == "" {
		config.LogConfig.Level = logrus.InfoLevel.String()
	}

	if config.ContainerRuntime == "" {
		config.ContainerRuntime = string(container.RuntimeDocker)
	}

	if config.ShutdownTimeoutSeconds <= 0 {
		config.ShutdownTimeoutSeconds = 30
	}

	return nil
}

// logGlobalConfig logs the effective configuration and host identity at
// startup, so a multi-host deployment's log aggregator can attribute a
// session to the gateway instance that served it.
func logGlobalConfig(opt *Option) {
	hostName, _ := sessionutil.GetHostName()
	mainIP := sessionutil.GetMainIP()

	logrus.Infof("boxsh-gateway starting on host=%s ip=%s", hostName, mainIP)

	b, _ := json.Marshal(opt)
	logrus.Infof("config: %s", string(b))
}

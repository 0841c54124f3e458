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

package sessionutil

import (
	"fmt"
	"strings"
)

const (
	maxContainerIDLength = 6
)

// WrapContainerError wraps an error message with a container ID, providing a more descriptive error when applicable.
func WrapContainerError(errMsg string, containerID string) string {
	if len(containerID) > maxContainerIDLength {
		containerID = containerID[0:maxContainerIDLength]
	}

	switch {
	case strings.Contains(errMsg, "No such container") || strings.Contains(errMsg, "not found"):
		errMsg = fmt.Sprintf("can't find container:%s", containerID)

	case strings.Contains(errMsg, "is not running"):
		errMsg = fmt.Sprintf("container is not running:%s", containerID)

	case strings.Contains(errMsg, "no such file or directory") || strings.Contains(errMsg, "connection refused"):
		errMsg = "docker is unavailable"
	}

	return errMsg
}

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

package monitor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boxsh/pkg/common/logutil"
)

var logger = logutil.GetLogger("boxsh-monitor")

// WrapPrometheus wraps an HTTP handler to record request latency and a
// request count by status code for every request it serves.
func WrapPrometheus(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method
		start := time.Now()

		metrics := httpsnoop.CaptureMetrics(next, w, r)

		code := strconv.Itoa(metrics.Code)
		delta := time.Since(start).Milliseconds()

		HTTPRequestRT.WithLabelValues(path, method).Observe(float64(delta))
		HTTPRequests.WithLabelValues(path, method, code).Inc()
	})
}

// Server serves /metrics on its own listener, independent of the SSH
// front-end.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics Server bound to addr (e.g. ":19104").
func NewServer(addr string) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", WrapPrometheus(promhttp.Handler()))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: router}}
}

// ListenAndServe blocks until the server stops or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("metrics server shutdown error: %v", err)
		}
	}()

	logger.Infof("metrics listening on %s", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}

	return err
}

// Package health serves liveness and readiness endpoints.
package health

import (
	"encoding/json"
	"net/http"

	"github.com/opencdms/opencdms-process/internal/runtime/rscript"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Checks feeds Readiness. Archive reports whether the archive location is
// reachable; Runtime returns the last probed R runtime status.
type Checks struct {
	Archive func() error
	Runtime func() rscript.Status
}

// Readiness answers 503 only when the archive is unreachable. A missing R
// runtime leaves the host serving Go processes, so it reports "degraded".
func Readiness(c Checks) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status  string          `json:"status"`
			Archive string          `json:"archive"`
			Runtime *rscript.Status `json:"runtime,omitempty"`
		}
		out := resp{Status: "ready", Archive: "ok"}
		code := http.StatusOK
		if c.Archive != nil {
			if err := c.Archive(); err != nil {
				out.Status, out.Archive = "not_ready", err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if c.Runtime != nil {
			st := c.Runtime()
			out.Runtime = &st
			if !st.Ready() && code == http.StatusOK {
				out.Status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	}
}

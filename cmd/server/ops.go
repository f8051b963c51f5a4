// cmd/server/ops.go
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/codr1/courtline/internal/metrics"
)

// newOpsServer serves health probes and prometheus metrics beside the
// UDP data path. The booking protocol never depends on it.
func newOpsServer(port int) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	metrics.Register(mux)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

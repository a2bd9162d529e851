package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cwbudde/esbench/internal/problem"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// problemLabel names a configured problem the way problem.New would.
func problemLabel(id, dim int) string {
	for _, info := range problem.Problems() {
		if info.ID == id {
			return fmt.Sprintf("f%d_%s (d=%d)", id, info.Name, dim)
		}
	}
	return fmt.Sprintf("f%d (d=%d)", id, dim)
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-calls/pkg/core"
)

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

// writeCoreError writes coreErr as a JSON envelope with the status its type
// maps to.
func writeCoreError(w http.ResponseWriter, reqID string, coreErr *core.Error) {
	if coreErr == nil {
		coreErr = core.NewAPIError("internal error")
	}
	if coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(coreErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: coreErr})
}

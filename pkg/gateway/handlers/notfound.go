package handlers

import (
	"net/http"

	"github.com/vango-go/vai-calls/pkg/core"
	"github.com/vango-go/vai-calls/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreError(w, reqID, core.NewNotFoundError("not found"))
}

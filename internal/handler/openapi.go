package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/saks635/NL2SQL-Convertor/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document of this API. The document is
// built once on first request.
type OpenAPIHandler struct {
	info openapi.Info
	once sync.Once
	doc  *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(info openapi.Info) *OpenAPIHandler {
	return &OpenAPIHandler{info: info}
}

// ServeSpec returns the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.doc = openapi.Generate(h.info)
	})
	writeJSON(w, http.StatusOK, h.doc)
}

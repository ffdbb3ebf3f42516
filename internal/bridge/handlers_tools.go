package bridge

import (
	"context"
	"net/http"

	"github.com/haasonsaas/nexus/pkg/models"
)

// handleToolCatalog implements GET /tools/catalog.
func (b *Bridge) handleToolCatalog(w http.ResponseWriter, r *http.Request) {
	entries := b.config.Catalog.Entries()
	out := make([]models.ToolCatalogEntry, len(entries))
	for i, e := range entries {
		out[i] = models.ToolCatalogEntry{
			Name:          e.Name,
			Description:   e.Description,
			ArgSchema:     e.ArgSchema,
			ScopeOfEffect: e.ScopeOfEffect,
		}
	}
	jsonResponse(w, b.config.Logger, http.StatusOK, map[string]any{
		"success":  true,
		"tools":    out,
		"metadata": map[string]string{"catalogVersion": b.config.Catalog.Version()},
	})
}

// handleToolExecute implements POST /tools/execute. Dispatch is bounded by
// executeTimeout (spec.md §5's 20s default for tool execution) so a wedged
// adapter can never hold the connection open indefinitely.
func (b *Bridge) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		jsonError(w, b.config.Logger, err.Error(), statusForError(err))
		return
	}

	var req models.ToolExecuteRequest
	if status, err := decodeJSONRequest(w, r, &req); err != nil {
		jsonError(w, b.config.Logger, err.Error(), status)
		return
	}
	if req.Tool == "" {
		jsonError(w, b.config.Logger, "tool is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), executeTimeout)
	defer cancel()

	result, err := b.config.Catalog.Execute(ctx, userID, req.Tool, req.Args)
	if err != nil {
		jsonResponse(w, b.config.Logger, statusForError(err), models.ToolExecuteResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	jsonResponse(w, b.config.Logger, http.StatusOK, models.ToolExecuteResponse{
		Success: true,
		Result:  result,
	})
}

package handlers

import (
	"net/http"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
)

// TemplatesList returns the built-in exam template catalogue so scanner
// clients can validate template tags before uploading.
func (a *App) TemplatesList(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": domain.Templates()})
}

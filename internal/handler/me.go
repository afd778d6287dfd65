package handler

import (
	"net/http"

	"github.com/kiwari-pos/kds/internal/middleware"
)

// Me handles GET /me and returns the principal behind the token.
func Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

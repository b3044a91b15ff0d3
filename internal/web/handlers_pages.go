package web

import (
	"net/http"

	"github.com/JonMunkholm/CsvEditor/internal/logging"
	"github.com/JonMunkholm/CsvEditor/internal/web/templates"
)

// handleIndex renders the editor page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := templates.EditorData{
		MaxFileSize:    s.cfg.Session.MaxFileSize,
		ExportFileName: s.cfg.CSV.ExportFileName,
		APIKeyRequired: s.cfg.Security.RequireAPIKey,
	}
	// The page is public; with API keys on, session IDs are only handed
	// out through the authenticated /api/sessions.
	if !s.cfg.Security.RequireAPIKey {
		data.Sessions = s.service.Sessions()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.EditorPage(data).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render editor page", "error", err)
	}
}

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/CsvEditor/internal/core"
	"github.com/JonMunkholm/CsvEditor/internal/csvtable"
	"github.com/JonMunkholm/CsvEditor/internal/logging"
)

// maxJSONBody caps edit request bodies. Cell values are text, so this
// only has to fit one long cell or one row of them.
const maxJSONBody = 1 << 20

// multipartOverhead is room for boundaries and part headers around the file.
const multipartOverhead = 64 << 10

// sseHeartbeat keeps idle event streams open through proxies.
var sseHeartbeat = 25 * time.Second

type loadResponse struct {
	Session core.Snapshot   `json:"session"`
	Report  csvtable.Report `json:"report"`
}

type newSessionRequest struct {
	Headers []string `json:"headers"`
}

type setCellRequest struct {
	Row   *int    `json:"row"`
	Col   *int    `json:"col"`
	Value *string `json:"value"`
}

type addRowRequest struct {
	Values []string `json:"values"`
}

type rowResponse struct {
	Row    int      `json:"row"`
	Values []string `json:"values"`
	Rows   int      `json:"rows"`
	Seq    uint64   `json:"seq"`
}

// handleLoadFile parses a dropped file into a new session.
func (s *Server) handleLoadFile(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Session.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, r, fmt.Errorf("%w: over %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	ctx := WithRequestMetadata(r.Context(), r)
	sess, report, err := s.service.LoadFile(ctx, header.Filename, file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, loadResponse{Session: sess.Snapshot(), Report: report})
}

// handleNewSession creates an empty table from column names.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	sess, err := s.service.NewSession(WithRequestMetadata(r.Context(), r), req.Headers)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// handleListSessions lists open sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Sessions())
}

// handleGetSession returns the full table.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleSetCell replaces one cell value.
func (s *Server) handleSetCell(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req setCellRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Row == nil || req.Col == nil || req.Value == nil {
		respondError(w, r, fmt.Errorf("%w: row, col and value are required", errBadRequest))
		return
	}

	ctx := sessionContext(r, sess.ID)
	if err := sess.SetCell(ctx, *req.Row, *req.Col, *req.Value); err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(ctx).Debug("cell updated", "row", *req.Row, "col", *req.Col)
	writeJSON(w, http.StatusOK, map[string]any{
		"row":   *req.Row,
		"col":   *req.Col,
		"value": *req.Value,
	})
}

// handleAddRow appends a row. The body is optional; without values the
// row is all empty cells.
func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req addRowRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, r, err)
			return
		}
	}

	added, err := sess.AddRow(sessionContext(r, sess.ID), req.Values...)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, rowResponse{
		Row:    added.Row,
		Values: added.Values,
		Rows:   added.Rows,
		Seq:    added.Seq,
	})
}

// handleDeleteRow removes one row by index.
func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: row must be an integer", errBadRequest))
		return
	}

	if err := sess.DeleteRow(sessionContext(r, sess.ID), row); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExport delivers the table as a CSV download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	dl, err := sess.Export(sessionContext(r, sess.ID))
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, dl.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Body)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(dl.Body); err != nil {
		logging.FromContext(r.Context()).Warn("export write failed", "error", err)
	}
}

// handleHistory returns recent audit entries for the session.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", core.DefaultHistoryLimit)
	entries, err := s.service.History(r.Context(), sess.ID, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCloseSession discards the session.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.CloseSession(sessionContext(r, id), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionEvents streams session changes via Server-Sent Events.
// The stream ends with a "closed" event when the session is closed or
// expires, and with a "resync" event when the client fell too far behind
// and must refetch the table. Server shutdown ends the stream without a
// final event so the browser reconnects to the next instance.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"))
		return
	}

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: ready\ndata: {\"rows\":%d}\n\n", sess.Len())
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Dropped for falling behind
				fmt.Fprint(w, "event: resync\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			flusher.Flush()
			if ev.Type == core.EventClosed {
				return
			}

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-s.streamsDone:
			return

		case <-r.Context().Done():
			return
		}
	}
}

// lookupSession resolves the {id} URL parameter, writing the error
// response itself when the session does not exist.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return nil, false
	}
	return sess, true
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

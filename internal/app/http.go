package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flashrevise/api/internal/auth"
	"flashrevise/api/internal/cloudblob"
	"flashrevise/api/internal/localdir"
	"flashrevise/api/internal/search"
	"flashrevise/api/internal/syncer"
	"flashrevise/api/internal/tree"
)

const maxImageBytes = 10 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	verifier   *auth.Verifier
}

func NewHTTPServer(service *Service, corsOrigin string, verifier *auth.Verifier) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, verifier: verifier}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Google redirects the browser here, so it cannot carry the API token.
	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/drive/callback" {
		s.handleDriveCallback(w, r)
		return
	}

	if !s.requireToken(w, r) {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/tree" {
		t := s.service.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{"goals": t, "counts": t.Counts()})
		return
	}

	if r.URL.Path == "/api/cursor" {
		s.handleCursor(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/images" {
		s.handleImage(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sync/status" {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   s.service.SyncStatus(),
			"adapters": s.service.AdapterNames(),
			"drive":    map[string]any{"authenticated": s.service.DriveAuthenticated()},
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync" {
		status, err := s.service.SyncNow(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": status})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sync/pull" {
		loaded, err := s.service.Pull(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		t := s.service.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{"loaded": loaded, "goals": t, "counts": t.Counts()})
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/sync/adapter" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SelectAdapter(strings.TrimSpace(body.Name)); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": s.service.SyncStatus()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/drive/begin" {
		pending, err := s.service.BeginDriveAuth()
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": pending.URL, "state": pending.State})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/drive/signout" {
		if err := s.service.SignOutDrive(r.Context()); err != nil {
			log.Printf("drive: sign out: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/localdir/link" {
		var body localdir.Descriptor
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		linked, err := s.service.LinkDirectory(r.Context(), localdir.FixedPicker(body), nil)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"linked": linked})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/localdir/diagnose" {
		steps, err := s.service.DiagnoseDirectory(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		ok := len(steps) > 0 && steps[len(steps)-1].OK
		writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "steps": steps})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "nodes" {
		s.handleLookup(w, parts[2:])
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == collections[0] {
		route, ok := parseNodeRoute(parts[1:])
		if ok {
			s.handleNodes(w, r, route)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	failures := s.service.Ping(ctx)
	for name := range s.service.checks {
		if err, failed := failures[name]; failed {
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	if len(failures) > 0 {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	// search always has the in-tree fallback, so it never fails readiness
	searchStatus := "fallback"
	if s.service.SearchHealthy() {
		searchStatus = "ok"
	}
	checks["search"] = map[string]any{"status": searchStatus}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCursor(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.service.View())
		return
	}
	if r.Method == http.MethodPut {
		var body tree.Cursor
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.SetCursor(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:         strings.TrimSpace(r.URL.Query().Get("q")),
		FilterGoalID: strings.TrimSpace(r.URL.Query().Get("goalId")),
		MaxMastery:   -1,
		Limit:        20,
	}
	for _, param := range []struct {
		name   string
		target *int
	}{
		{"limit", &q.Limit},
		{"offset", &q.Offset},
		{"maxMastery", &q.MaxMastery},
	} {
		raw := strings.TrimSpace(r.URL.Query().Get(param.name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", param.name+" must be an integer", nil)
			return
		}
		*param.target = parsed
	}
	writeJSON(w, http.StatusOK, s.service.Search(q))
}

func (s *HTTPServer) handleImage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	dataURL, err := tree.EncodeImage(io.LimitReader(r.Body, maxImageBytes))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported or corrupt image", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"image": dataURL})
}

func (s *HTTPServer) handleDriveCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := strings.TrimSpace(query.Get("state"))
	if state == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "state is required", nil)
		return
	}
	denied := strings.TrimSpace(query.Get("error"))
	code := strings.TrimSpace(query.Get("code"))
	if denied == "" && code == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "code is required", nil)
		return
	}
	if err := s.service.CompleteDriveAuth(r.Context(), state, code, denied); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "authorized": denied == ""})
}

// handleLookup serves /api/nodes/{level}/{id}.
func (s *HTTPServer) handleLookup(w http.ResponseWriter, parts []string) {
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	level, err := tree.ParseLevel(parts[0])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	loc, ok := s.service.Snapshot().Find(level, parts[1])
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

var collections = []string{"goals", "subjects", "topics", "subtopics", "flashcards"}

var collectionLevels = []tree.Level{tree.LevelGoal, tree.LevelSubject, tree.LevelTopic, tree.LevelSubtopic, tree.LevelFlashcard}

type nodeRoute struct {
	// ids of the addressed nodes, outermost first
	ids []string
	// collection is set when the path ends at a collection name
	collection bool
	// action is the verb after a flashcard id, as in .../flashcards/{id}/mastery
	action string
}

// parseNodeRoute reads goals/{g}/subjects/{s}/.../flashcards/{f}[/mastery].
func parseNodeRoute(parts []string) (nodeRoute, bool) {
	var route nodeRoute
	for i := 0; i < len(parts); i += 2 {
		depth := i / 2
		if depth == len(collections) {
			if i == len(parts)-1 {
				route.action = parts[i]
				return route, true
			}
			return nodeRoute{}, false
		}
		if parts[i] != collections[depth] {
			return nodeRoute{}, false
		}
		if i+1 == len(parts) {
			route.collection = true
			return route, true
		}
		route.ids = append(route.ids, parts[i+1])
	}
	return route, true
}

func pathOf(ids []string) tree.Path {
	var p tree.Path
	fields := []*string{&p.GoalID, &p.SubjectID, &p.TopicID, &p.SubtopicID}
	for i, id := range ids {
		if i < len(fields) {
			*fields[i] = id
		}
	}
	return p
}

func (s *HTTPServer) handleNodes(w http.ResponseWriter, r *http.Request, route nodeRoute) {
	switch {
	case route.collection && r.Method == http.MethodPost:
		s.handleCreate(w, r, route.ids)
	case !route.collection && route.action == "" && r.Method == http.MethodDelete:
		removed, err := s.service.Delete(r.Context(), collectionLevels[len(route.ids)-1], route.ids)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	case !route.collection && route.action == "" && r.Method == http.MethodGet:
		level := collectionLevels[len(route.ids)-1]
		loc, ok := s.service.Snapshot().Find(level, route.ids[len(route.ids)-1])
		if !ok || pathOf(route.ids) != loc.Path {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	case route.action == "mastery" && r.Method == http.MethodPut:
		var body struct {
			Mastery *int `json:"mastery"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Mastery == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "mastery is required", nil)
			return
		}
		card, err := s.service.SetMastery(r.Context(), pathOf(route.ids), route.ids[4], *body.Mastery)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, card)
	case route.action != "":
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request, ids []string) {
	var body struct {
		Title string `json:"title"`
		tree.CardInput
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var (
		created any
		err     error
	)
	ctx := r.Context()
	switch len(ids) {
	case 0:
		created, err = s.service.AddGoal(ctx, body.Title)
	case 1:
		created, err = s.service.AddSubject(ctx, ids[0], body.Title)
	case 2:
		created, err = s.service.AddTopic(ctx, ids[0], ids[1], body.Title)
	case 3:
		created, err = s.service.AddSubtopic(ctx, ids[0], ids[1], ids[2], body.Title)
	default:
		created, err = s.service.AddFlashcard(ctx, pathOf(ids), body.CardInput)
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) requireToken(w http.ResponseWriter, r *http.Request) bool {
	if err := s.verifier.Check(bearerToken(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, tree.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, tree.ErrInvalidMastery):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "mastery must be between 0 and 5", nil
	case errors.Is(err, tree.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, cloudblob.ErrUnknownState):
		return http.StatusBadRequest, "UNKNOWN_AUTH_STATE", "Unknown or expired authorization", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if kind := syncer.Kind(err); kind != "" && kind != "error" {
		details = map[string]any{"kind": kind}
		switch kind {
		case "permission_denied":
			return http.StatusForbidden, "PERMISSION_DENIED", "Storage access was not granted", details
		case "partial_write":
			return http.StatusBadGateway, "PARTIAL_WRITE", "Sync stopped part way through", details
		case "transport":
			return http.StatusBadGateway, "SYNC_FAILED", "Storage backend request failed", details
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

package scribe

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bosley/listener/capture"
	"github.com/bosley/listener/store"
	"github.com/bosley/listener/transcript"
)

// Handler returns the HTTP API.
func (s *Scribe) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.authenticate)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", s.metricsHandler()).Methods("GET")

	router.HandleFunc("/record/start", s.handleRecordStart).Methods("POST")
	router.HandleFunc("/record/stop", s.handleRecordStop).Methods("POST")
	router.HandleFunc("/process/file", s.handleProcessFile).Methods("POST")

	router.HandleFunc("/meetings", s.handleListMeetings).Methods("GET")
	router.HandleFunc("/meetings/{meetingID}", s.handleGetMeeting).Methods("GET")
	router.HandleFunc("/meetings/{meetingID}", s.handleDeleteMeeting).Methods("DELETE")
	router.HandleFunc("/meetings/{meetingID}/utterances", s.handleUtterances).Methods("GET")
	router.HandleFunc("/meetings/{meetingID}/transcript", s.handleTranscript).Methods("GET")

	router.HandleFunc("/ws/meetings", s.handleWebSocket)
	router.HandleFunc("/ws/meetings/{meetingID}", s.handleWebSocket)

	return router
}

func (s *Scribe) startHTTP(ctx context.Context) error {
	s.server.Handler = s.Handler()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.server.TLSConfig != nil {
			slog.Info("HTTPS server listening", "addr", s.server.Addr)
			err = s.server.ListenAndServeTLS("", "")
		} else {
			slog.Info("HTTP server listening", "addr", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve HTTP: %w", err)
	case <-ctx.Done():
		return nil
	}
}

func (s *Scribe) metricsHandler() http.Handler {
	g := s.deps.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// authenticate requires the configured bearer token on every route except
// /health and /metrics. Websocket clients may pass it as ?token=.
func (s *Scribe) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorStatus maps orchestrator errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrSessionActive), errors.Is(err, capture.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, ErrQueueFull),
		errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Scribe) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Recording: s.Recording()})
}

func (s *Scribe) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	duration := s.config.DefaultDuration
	if req.DurationSec != nil {
		if *req.DurationSec <= 0 {
			writeError(w, http.StatusBadRequest, "duration_sec must be positive")
			return
		}
		duration = time.Duration(*req.DurationSec) * time.Second
	}

	m, err := s.StartRecording(r.Context(), duration)
	if err != nil {
		slog.Warn("Failed to start recording", "error", err)
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, startResponse{MeetingID: m.ID.String(), Status: "recording started"})
}

func (s *Scribe) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if err := s.StopRecording(); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "stop requested"})
}

func (s *Scribe) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.config.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	var tooLarge *http.MaxBytesError

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		slog.Error("Failed to store upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	m, err := s.ProcessFile(r.Context(), path)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, startResponse{MeetingID: m.ID.String(), Status: "processing started"})
}

// saveUpload copies an uploaded file into the upload directory under a
// fresh name that keeps the uploaded file's extension.
func (s *Scribe) saveUpload(src io.Reader, name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".wav"
	}
	path := filepath.Join(s.config.UploadDir, uuid.NewString()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		removeTemp(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		removeTemp(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, nil
}

func meetingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["meetingID"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid meeting id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Scribe) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	meetings, err := s.deps.Store.ListMeetings(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list meetings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list meetings")
		return
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (s *Scribe) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingID(w, r)
	if !ok {
		return
	}

	m, err := s.deps.Store.GetMeeting(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Scribe) handleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingID(w, r)
	if !ok {
		return
	}

	m, err := s.deps.Store.GetMeeting(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if !m.Status.Terminal() {
		writeError(w, http.StatusConflict, "meeting is still "+string(m.Status))
		return
	}

	if err := s.deps.Store.DeleteMeeting(r.Context(), id); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	slog.Info("Meeting deleted", "meetingID", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Scribe) handleUtterances(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingID(w, r)
	if !ok {
		return
	}

	var trackID *uuid.UUID
	if v := r.URL.Query().Get("track"); v != "" {
		t, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid track id")
			return
		}
		trackID = &t
	}

	if _, err := s.deps.Store.GetMeeting(r.Context(), id); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	utts, err := s.deps.Store.Utterances(r.Context(), id, trackID)
	if err != nil {
		slog.Error("Failed to load utterances", "meetingID", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load utterances")
		return
	}
	if utts == nil {
		utts = []store.Utterance{}
	}
	writeJSON(w, http.StatusOK, utts)
}

func (s *Scribe) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := meetingID(w, r)
	if !ok {
		return
	}

	m, err := s.deps.Store.GetMeeting(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	rows, err := s.deps.Store.Utterances(r.Context(), id, nil)
	if err != nil {
		slog.Error("Failed to load utterances", "meetingID", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load utterances")
		return
	}

	utts := make([]transcript.Utterance, len(rows))
	for i, u := range rows {
		utts[i] = u.Transcript()
	}

	title := fmt.Sprintf("Meeting %s (%s)", m.CreatedAt.Format("2006-01-02 15:04"), m.Status)
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	io.WriteString(w, transcript.Markdown(title, transcript.Merge(utts)))
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/voicecapture/internal/audio"
	"github.com/audiolibrelab/voicecapture/internal/config"
	"github.com/audiolibrelab/voicecapture/internal/recordings"
	"github.com/audiolibrelab/voicecapture/internal/service"
	"github.com/audiolibrelab/voicecapture/internal/session"
)

// Server exposes the recording controls over HTTP
type Server struct {
	service service.Service
	cfg     *config.Config
	port    string
}

// StartRequest is accepted as JSON or as form values
type StartRequest struct {
	OutputDirectory    string `json:"output_directory"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
}

// StartResponse mirrors session.StartResult
type StartResponse struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	SessionID  string `json:"session_id"`
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	session.Status
	LastError string         `json:"last_error,omitempty"`
	LastEnded *EndedResponse `json:"last_ended,omitempty"`
}

// EndedResponse describes how the previous session finished
type EndedResponse struct {
	Path   string         `json:"path"`
	Reason session.Reason `json:"reason"`
	Frames int64          `json:"frames"`
	Error  string         `json:"error,omitempty"`
}

// DevicesResponse represents the JSON response for devices endpoint
type DevicesResponse struct {
	Backend string             `json:"backend"`
	Devices []audio.DeviceInfo `json:"devices"`
}

// RecordingsResponse represents the JSON response for recordings endpoint
type RecordingsResponse struct {
	Recordings      []recordings.Recording `json:"recordings"`
	TotalCount      int                    `json:"total_count"`
	OutputDirectory string                 `json:"output_directory"`
}

// New creates a new web server instance
func New(svc service.Service, cfg *config.Config, port string) *Server {
	if port == "" {
		port = cfg.Server.Port
	}
	return &Server{service: svc, cfg: cfg, port: port}
}

// Handler returns the routes without binding a listener
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/recordings/stream/", s.handleRecordingStream)
	mux.HandleFunc("/transcode", s.handleTranscode)
	return mux
}

// Start serves until ctx is cancelled, then stops any active recording
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Get local IP address
	localIP := getLocalIP()

	slog.Info("Starting VoiceCapture control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down control server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.FinalizeTimeout*2)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if err := s.service.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to stop recording on shutdown", "error", err)
	}
	return shutdownErr
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := parseStartRequest(r)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "start")
		return
	}

	slog.Debug("Start request received", "output_dir", req.OutputDirectory, "max_duration", req.MaxDurationSeconds)

	res, err := s.service.StartRecording(r.Context(), req.OutputDirectory, req.MaxDurationSeconds)
	if err != nil {
		s.sendErrorResponse(w, errorStatus(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start")
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		Success:    true,
		OutputPath: res.OutputPath,
		SampleRate: res.SampleRate,
		Channels:   res.Channels,
		SessionID:  res.SessionID,
	})
}

func parseStartRequest(r *http.Request) (StartRequest, error) {
	var req StartRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("Invalid JSON body: %v", err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("Failed to parse form")
	}
	req.OutputDirectory = r.FormValue("output_directory")
	if v := r.FormValue("max_duration_seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("Invalid max_duration_seconds: %s", v)
		}
		req.MaxDurationSeconds = n
	}
	return req, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path, err := s.service.StopRecording(r.Context())
	if err != nil {
		s.sendErrorResponse(w, errorStatus(err),
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Recording stopped",
		"output_path": path,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := StatusResponse{
		Status:    s.service.GetRecordingStatus(),
		LastError: s.service.GetLastError(),
	}
	if ended := s.service.LastEnded(); ended != nil {
		response.LastEnded = &EndedResponse{
			Path:   ended.Path,
			Reason: ended.Reason,
			Frames: ended.Summary.Frames,
		}
		if ended.Err != nil {
			response.LastEnded.Error = ended.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	devices, err := s.service.ListDevices()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list devices: %v", err),
			"operation", "devices")
		return
	}

	writeJSON(w, http.StatusOK, DevicesResponse{
		Backend: s.cfg.Audio.Backend,
		Devices: devices,
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	list, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err),
			"operation", "recordings")
		return
	}
	if list == nil {
		list = []recordings.Recording{}
	}

	writeJSON(w, http.StatusOK, RecordingsResponse{
		Recordings:      list,
		TotalCount:      len(list),
		OutputDirectory: s.cfg.Output.Directory,
	})
}

// handleRecordingStream streams a recording file
func (s *Server) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/recordings/stream/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	filePath := filepath.Join(s.cfg.Output.Directory, filename)
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	file, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	http.ServeContent(w, r, filename, info.ModTime(), file)
}

func (s *Server) handleTranscode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	name := r.FormValue("name")
	out, err := s.service.Transcode(r.Context(), name)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Transcode failed: %v", err),
			"name", name, "operation", "transcode")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"output_path": out,
	})
}

// errorStatus maps session errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyRecording), errors.Is(err, session.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoInputDevice), errors.Is(err, session.ErrUnsupportedFormat):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrLockFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

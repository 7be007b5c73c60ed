// Package fakeservice is an in-process stand-in for the extraction API.
// It serves the batch submission, status and archive endpoints plus a
// pre-signed upload route with the same header rules as the real storage.
package fakeservice

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// APIPrefix is where the API endpoints are mounted.
const APIPrefix = "/api/v4"

// Step is one scripted status response. Queries walk the script and the
// last step repeats once reached.
type Step struct {
	State      string
	ErrMsg     string
	NoEntries  bool   // extract_result is empty
	NoURL      bool   // done without full_zip_url
	HTTPStatus int    // non-zero serves a bare error page with this status
	Raw        string // served verbatim as the response body
	Pages      [2]int // extracted, total
}

// Config scripts the service's behavior.
type Config struct {
	Token string

	SubmitCode   int
	SubmitMsg    string
	EmptyTargets bool
	SubmitRaw    string

	UploadStatus   int // overrides the 200 upload response
	DownloadStatus int // overrides the 200 archive response

	Steps   []Step
	Archive []byte
}

// Stats counts requests handled by the service.
type Stats struct {
	Submits   int
	Uploads   int
	Queries   int
	Downloads int

	LastSubmit        map[string]interface{}
	LastUploadHeaders http.Header
	UploadedBytes     int
	BatchIDs          []string
}

type batch struct {
	id       string
	fileName string
	uploaded bool
	queries  int
}

// Server is the fake extraction service.
type Server struct {
	mu      sync.Mutex
	cfg     Config
	batches map[string]*batch
	nextID  int
	stats   Stats
	router  chi.Router
}

// New creates a server with cfg.
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		batches: make(map[string]*batch),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/file-urls/batch", s.handleSubmit)
		r.Get("/extract-results/batch/{batchID}", s.handleStatus)
	})
	r.Put("/upload/{batchID}", s.handleUpload)
	r.Get("/files/{batchID}.zip", s.handleDownload)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Stats returns a snapshot of the request counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.BatchIDs = append([]string(nil), s.stats.BatchIDs...)
	if s.stats.LastUploadHeaders != nil {
		out.LastUploadHeaders = s.stats.LastUploadHeaders.Clone()
	}
	return out
}

// SetSteps replaces the status script for later queries.
func (s *Server) SetSteps(steps []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Steps = steps
}

// AddBatch registers a batch as if it had been submitted and uploaded.
func (s *Server) AddBatch(id, fileName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id] = &batch{id: id, fileName: fileName, uploaded: true}
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] != s.cfg.Token {
			writeEnvelope(w, http.StatusUnauthorized, -10001, "invalid or missing token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, -10002, "invalid request body", nil)
		return
	}

	s.mu.Lock()
	s.stats.Submits++
	s.stats.LastSubmit = body
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.SubmitRaw != "" {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, cfg.SubmitRaw)
		return
	}
	if cfg.SubmitCode != 0 {
		writeEnvelope(w, http.StatusOK, cfg.SubmitCode, cfg.SubmitMsg, nil)
		return
	}

	fileName := ""
	if files, ok := body["files"].([]interface{}); ok && len(files) > 0 {
		if f, ok := files[0].(map[string]interface{}); ok {
			fileName, _ = f["name"].(string)
		}
	}
	if fileName == "" {
		writeEnvelope(w, http.StatusOK, -10002, "files must name one document", nil)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("batch-%04d", s.nextID)
	s.batches[id] = &batch{id: id, fileName: fileName}
	s.stats.BatchIDs = append(s.stats.BatchIDs, id)
	s.mu.Unlock()

	urls := []string{baseURL(r) + "/upload/" + id + "?X-Amz-Signature=fake"}
	if cfg.EmptyTargets {
		urls = []string{}
	}

	writeEnvelope(w, http.StatusOK, 0, "ok", map[string]interface{}{
		"batch_id":  id,
		"file_urls": urls,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")

	s.mu.Lock()
	s.stats.Uploads++
	s.stats.LastUploadHeaders = r.Header.Clone()
	b, ok := s.batches[id]
	status := s.cfg.UploadStatus
	s.mu.Unlock()

	if _, set := r.Header["Content-Type"]; set {
		writeS3Error(w, http.StatusForbidden, "SignatureDoesNotMatch",
			"The request signature we calculated does not match the signature you provided.")
		return
	}
	if r.Header.Get("Authorization") != "" {
		writeS3Error(w, http.StatusBadRequest, "InvalidArgument",
			"Only one auth mechanism allowed.")
		return
	}
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchUpload", "The specified upload does not exist.")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "IncompleteBody", err.Error())
		return
	}

	if status != 0 && status != http.StatusOK {
		writeS3Error(w, status, "Rejected", "upload rejected by script")
		return
	}

	s.mu.Lock()
	b.uploaded = true
	s.stats.UploadedBytes += len(data)
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")

	s.mu.Lock()
	s.stats.Queries++
	b, ok := s.batches[id]
	var step Step
	if ok {
		step = s.nextStep(b)
	}
	s.mu.Unlock()

	if !ok {
		writeEnvelope(w, http.StatusOK, -60001, "batch not found", nil)
		return
	}

	if step.HTTPStatus != 0 {
		http.Error(w, http.StatusText(step.HTTPStatus), step.HTTPStatus)
		return
	}
	if step.Raw != "" {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, step.Raw)
		return
	}

	results := []interface{}{}
	if !step.NoEntries {
		entry := map[string]interface{}{
			"file_name": b.fileName,
			"state":     step.State,
			"err_msg":   step.ErrMsg,
		}
		if step.State == "done" && !step.NoURL {
			entry["full_zip_url"] = baseURL(r) + "/files/" + id + ".zip"
		}
		if step.Pages != [2]int{} {
			entry["extract_progress"] = map[string]interface{}{
				"extracted_pages": step.Pages[0],
				"total_pages":     step.Pages[1],
				"start_time":      "2025-01-20 11:43:20",
			}
		}
		results = append(results, entry)
	}

	writeEnvelope(w, http.StatusOK, 0, "ok", map[string]interface{}{
		"batch_id":       id,
		"extract_result": results,
	})
}

// nextStep advances b through the script. Callers hold s.mu.
func (s *Server) nextStep(b *batch) Step {
	steps := s.cfg.Steps
	if len(steps) == 0 {
		return Step{State: "done"}
	}
	i := b.queries
	if i >= len(steps) {
		i = len(steps) - 1
	}
	b.queries++
	return steps[i]
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.stats.Downloads++
	status := s.cfg.DownloadStatus
	archive := s.cfg.Archive
	s.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", fmt.Sprint(len(archive)))
	w.Write(archive)
}

func writeEnvelope(w http.ResponseWriter, status, code int, msg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":     code,
		"msg":      msg,
		"trace_id": "fake-trace",
		"data":     data,
	})
}

func writeS3Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, message)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

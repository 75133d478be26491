package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/gorilla/mux"
)

const (
	filesPrefix = "/api/v1/files"

	maxMemory = 32 << 20
)

// Options for creating a server.
type Options struct {
	// Credentials expected in the x-api-key and x-api-secret headers. If both are
	// empty, requests are not authenticated.
	APIKey, APISecret string
}

// Server is an in-memory implementation of the Fluxsave HTTP API.
type Server struct {
	opts   Options
	store  *store
	logger *slog.Logger
}

func NewServer(logger *slog.Logger, opts Options) *Server {
	return &Server{
		opts:   opts,
		store:  newStore(),
		logger: logger,
	}
}

func (s *Server) CreateHandler() http.Handler {
	r := mux.NewRouter()

	// Public links, as produced by BuildFileURL.
	r.HandleFunc(filesPrefix+"/{id}", s.downloadHandler).Methods("GET")
	r.HandleFunc("/api/v1/status", s.statusHandler).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	if s.opts.APIKey != "" || s.opts.APISecret != "" {
		api.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("x-api-key") != s.opts.APIKey || r.Header.Get("x-api-secret") != s.opts.APISecret {
					s.logger.Error("[fluxsave] authorization error", slog.String("path", r.URL.Path))

					jsonError(w, http.StatusUnauthorized, "invalid API credentials")
					return
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	api.HandleFunc("/files/upload", s.uploadHandler).Methods("POST")
	api.HandleFunc("/files", s.listHandler).Methods("GET")
	api.HandleFunc("/files/metadata/{id}", s.metadataHandler).Methods("GET")
	api.HandleFunc("/files/{id}", s.updateHandler).Methods("PUT")
	api.HandleFunc("/files/{id}", s.deleteHandler).Methods("DELETE")
	api.HandleFunc("/metrics", s.metricsHandler).Methods("GET")

	return r
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	transform, ok := parseTransform(w, r)
	if !ok {
		return
	}
	name := r.FormValue("name")

	if headers := r.MultipartForm.File["files"]; len(headers) > 0 {
		records := make([]FileRecord, 0, len(headers))
		for _, fh := range headers {
			u, err := readUpload(fh)
			if err != nil {
				s.reportError(w, r, err)
				return
			}
			records = append(records, s.store.add(u, name, transform != nil && *transform))
		}
		s.writeJSON(w, http.StatusCreated, struct {
			Files []FileRecord `json:"files"`
		}{Files: records})
		return
	}

	fh := firstFile(r, "file")
	if fh == nil {
		jsonError(w, http.StatusBadRequest, "no file provided")
		return
	}
	u, err := readUpload(fh)
	if err != nil {
		s.reportError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.store.add(u, name, transform != nil && *transform))
}

func (s *Server) listHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Files []FileRecord `json:"files"`
	}{Files: s.store.list()})
}

func (s *Server) metadataHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.get(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) updateHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.store.get(id); !ok {
		jsonError(w, http.StatusNotFound, "file not found")
		return
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	transform, ok := parseTransform(w, r)
	if !ok {
		return
	}
	fh := firstFile(r, "file")
	if fh == nil {
		jsonError(w, http.StatusBadRequest, "no file provided")
		return
	}
	u, err := readUpload(fh)
	if err != nil {
		s.reportError(w, r, err)
		return
	}
	rec, ok := s.store.replace(id, u, r.FormValue("name"), transform)
	if !ok {
		jsonError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.store.remove(id) {
		jsonError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}{ID: id, Message: "file deleted"})
}

func (s *Server) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.metrics())
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	rec, data, ok := s.store.content(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", rec.Filename))
	http.ServeContent(w, r, "", time.UnixMilli(0), bytes.NewReader(data))
}

// parseTransform reads the optional transform field. It writes a 400 response and
// returns false if the value is not a boolean.
func parseTransform(w http.ResponseWriter, r *http.Request) (*bool, bool) {
	values, present := r.MultipartForm.Value["transform"]
	if !present || len(values) == 0 {
		return nil, true
	}
	b, err := strconv.ParseBool(values[0])
	if err != nil {
		jsonError(w, http.StatusBadRequest, "transform must be true or false")
		return nil, false
	}
	return &b, true
}

func firstFile(r *http.Request, field string) *multipart.FileHeader {
	if headers := r.MultipartForm.File[field]; len(headers) > 0 {
		return headers[0]
	}
	return nil
}

func readUpload(fh *multipart.FileHeader) (upload, error) {
	f, err := fh.Open()
	if err != nil {
		return upload{}, fault.Wrap(err, fmsg.With("error opening uploaded file"))
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return upload{}, fault.Wrap(err, fmsg.With("error reading uploaded file"))
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return upload{filename: fh.Filename, contentType: contentType, data: data}, nil
}

func (s *Server) reportError(w http.ResponseWriter, r *http.Request, err error) {
	jsonError(w, http.StatusInternalServerError, "unable to store file")
	s.logError(fault.Wrap(err, fctx.With(s.context(r))))
}

func (s *Server) context(r *http.Request) context.Context {
	ctx := fctx.WithMeta(r.Context(),
		"method", r.Method,
		"url", r.URL.String(),
	)
	return ctx
}

func (s *Server) logError(err error) {
	var attrs []slog.Attr
	for k, v := range fctx.Unwrap(err) {
		attrs = append(attrs, slog.String(k, v))
	}

	s.logger.LogAttrs(context.Background(), slog.LevelError, fmt.Sprintf("[fluxsave] %+v", err), attrs...)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logError(fault.Wrap(err, fmsg.With("error encoding response")))
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Message string `json:"message"`
	}{Message: message})
}

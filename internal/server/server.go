// Package server implements the reconciliation backend the sync client
// talks to: per-entity batch upload with first-write server identity
// assignment, plus a health probe.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// Entity types the backend reconciles. Mirrors the client's closed set.
var knownEntities = map[string]bool{
	"inventory": true,
	"lots":      true,
	"personnel": true,
	"labor":     true,
	"finance":   true,
	"sanitary":  true,
	"movements": true,
	"harvests":  true,
}

// IncomingRecord is one element of an uploaded batch. Raw keeps the full
// flattened payload for storage.
type IncomingRecord struct {
	ID          string `json:"id" validate:"required"`
	LastUpdated int64  `json:"lastUpdated" validate:"gte=0"`

	Raw json.RawMessage `json:"-"`
}

// Confirmation acknowledges one reconciled record back to the client.
type Confirmation struct {
	ID          string `json:"id"`
	ServerID    string `json:"serverId"`
	LastUpdated int64  `json:"lastUpdated"`
}

// StoredRecord is a reconciled record as held by the backend.
type StoredRecord struct {
	ID          string          `json:"id"`
	ServerID    string          `json:"serverId"`
	LastUpdated int64           `json:"lastUpdated"`
	Payload     json.RawMessage `json:"payload"`
}

type syncResponse struct {
	Success bool           `json:"success"`
	Synced  []Confirmation `json:"synced,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server is the reconciliation HTTP backend.
type Server struct {
	storage  *Storage
	log      *logrus.Logger
	router   *mux.Router
	validate *validator.Validate
	apiToken string
}

// NewServer creates a server over the given storage. apiToken may be empty
// to disable auth (local testing).
func NewServer(storage *Storage, apiToken string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		storage:  storage,
		log:      log,
		router:   mux.NewRouter(),
		validate: validator.New(),
		apiToken: apiToken,
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/{entity}/sync", s.requireAuth(s.handleSync)).Methods(http.MethodPost)
	api.HandleFunc("/{entity}", s.requireAuth(s.handleList)).Methods(http.MethodGet)

	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" && r.Header.Get("Authorization") != "Bearer "+s.apiToken {
			writeJSON(w, http.StatusUnauthorized, syncResponse{Success: false, Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	if !knownEntities[entity] {
		writeJSON(w, http.StatusNotFound, syncResponse{Success: false, Error: "unknown entity type: " + entity})
		return
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, syncResponse{Success: false, Error: "request body must be a JSON array"})
		return
	}

	records := make([]IncomingRecord, 0, len(raw))
	for _, item := range raw {
		var rec IncomingRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			writeJSON(w, http.StatusBadRequest, syncResponse{Success: false, Error: "malformed record: " + err.Error()})
			return
		}
		if err := s.validate.Struct(rec); err != nil {
			writeJSON(w, http.StatusBadRequest, syncResponse{Success: false, Error: "invalid record: " + err.Error()})
			return
		}
		rec.Raw = item
		records = append(records, rec)
	}

	confs, err := s.storage.UpsertBatch(r.Context(), entity, records)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"entity": entity,
			"count":  len(records),
		}).WithError(err).Error("batch reconciliation failed")
		writeJSON(w, http.StatusInternalServerError, syncResponse{Success: false, Error: "reconciliation failed"})
		return
	}

	s.log.WithFields(logrus.Fields{
		"entity": entity,
		"count":  len(confs),
	}).Info("batch reconciled")

	writeJSON(w, http.StatusOK, syncResponse{Success: true, Synced: confs})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	if !knownEntities[entity] {
		writeJSON(w, http.StatusNotFound, syncResponse{Success: false, Error: "unknown entity type: " + entity})
		return
	}

	records, err := s.storage.List(r.Context(), entity)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, syncResponse{Success: false, Error: "list failed"})
		return
	}
	if records == nil {
		records = []StoredRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

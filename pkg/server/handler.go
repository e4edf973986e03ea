package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lighthouse-p2p/lighthouse/pkg/directory"
)

// AdminTokenHeader carries the wipe credential.
const AdminTokenHeader = "X-Lighthouse-Admin-Token"

type handler struct {
	log *zap.SugaredLogger
	svc *directory.Service
}

func newHandler(svc *directory.Service) *handler {
	return &handler{
		log: zap.S().Named("http"),
		svc: svc,
	}
}

func (h *handler) RegisterRoutes(r chi.Router) {
	r.Get("/livez", h.livez)
	r.Get("/wipe", h.wipe)
	r.Post("/register", h.register)
	r.Post("/lookup", h.lookup)
	r.Post("/listconns", h.listConns)
}

type registerRequest struct {
	Endpoint  string `json:"endpoint"`
	PubKey    string `json:"pubkey"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

type registerResponse struct {
	ID string `json:"id"`
}

type lookupRequest struct {
	ID        string `json:"id"`
	Client    string `json:"client"`
	Timestamp int64  `json:"timestamp"`
	PubKey    string `json:"pubkey,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type lookupResponse struct {
	Endpoint string `json:"endpoint"`
}

type listConnsRequest struct {
	ID        string `json:"id"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

type connEntry struct {
	Client    string `json:"client"`
	Timestamp int64  `json:"timestamp"`
}

type listConnsResponse struct {
	Connections []connEntry `json:"connections"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *handler) livez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Endpoint == "" || req.PubKey == "" || req.Signature == "" || req.Timestamp <= 0 {
		h.writeError(w, errors.New("endpoint, pubkey, signature and timestamp are required"), true)
		return
	}

	res, err := h.svc.Register(r.Context(), directory.RegisterRequest{
		Endpoint:  req.Endpoint,
		PubKey:    req.PubKey,
		Signature: req.Signature,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		h.writeError(w, err, false)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{ID: res.ID.String()})
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Client == "" || req.Timestamp <= 0 {
		h.writeError(w, errors.New("id, client and timestamp are required"), true)
		return
	}

	ep, err := h.svc.Lookup(r.Context(), directory.LookupRequest{
		ID:        req.ID,
		Client:    req.Client,
		Timestamp: req.Timestamp,
		PubKey:    req.PubKey,
		Signature: req.Signature,
	})
	if err != nil {
		h.writeError(w, err, false)
		return
	}

	writeJSON(w, http.StatusOK, lookupResponse{Endpoint: ep.String()})
}

func (h *handler) listConns(w http.ResponseWriter, r *http.Request) {
	var req listConnsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Signature == "" || req.Timestamp <= 0 {
		h.writeError(w, errors.New("id, signature and timestamp are required"), true)
		return
	}

	recs, err := h.svc.ListConns(r.Context(), directory.ListConnsRequest{
		ID:        req.ID,
		Signature: req.Signature,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		h.writeError(w, err, false)
		return
	}

	resp := listConnsResponse{Connections: make([]connEntry, 0, len(recs))}
	for _, rec := range recs {
		resp.Connections = append(resp.Connections, connEntry{
			Client:    rec.Client.String(),
			Timestamp: rec.LookedUpAt.Unix(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) wipe(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Wipe(r.Context(), r.Header.Get(AdminTokenHeader)); err != nil {
		h.writeError(w, err, false)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// decode enforces the fixed request schemas: unknown fields, trailing
// garbage and malformed JSON are all rejected before any business logic.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		h.writeError(w, err, true)
		return false
	}
	if _, err := dec.Token(); err != io.EOF {
		h.writeError(w, errors.New("unexpected trailing data"), true)
		return false
	}

	return true
}

func (h *handler) writeError(w http.ResponseWriter, err error, invalidInput bool) {
	kind := "invalid_input"
	status := http.StatusBadRequest
	message := err.Error()

	switch {
	case invalidInput || errors.Is(err, directory.ErrInvalidInput):
	case errors.Is(err, directory.ErrUnauthorized):
		kind = "unauthorized"
		status = http.StatusUnauthorized
	case errors.Is(err, directory.ErrNotFound):
		kind = "not_found"
		status = http.StatusNotFound
	default:
		// Storage and unknown failures surface without internal detail.
		kind = "internal"
		status = http.StatusInternalServerError
		message = "internal error"
		h.log.Errorw("request failed", "error", err)
	}

	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

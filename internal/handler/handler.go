package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"mixbridge/internal/core"
	"mixbridge/internal/domain"
	"mixbridge/internal/topology"
)

// Dispatcher runs fn on the goroutine that owns the core
type Dispatcher interface {
	Do(ctx context.Context, fn func()) error
}

// Handler serves the control API
type Handler struct {
	core   *core.Core
	owner  Dispatcher
	logger *zap.Logger
}

// New creates a handler
func New(c *core.Core, owner Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{core: c, owner: owner, logger: logger}
}

// Register adds the API routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/topology", h.GetTopology)
	mux.HandleFunc("PUT /api/topology/mode", h.SetMode)
	mux.HandleFunc("PUT /api/topology/active", h.SetActiveParallel)

	mux.HandleFunc("GET /api/entities", h.ListEntities)
	mux.HandleFunc("POST /api/entities", h.CreateEntity)
	mux.HandleFunc("GET /api/entities/{id}", h.GetEntity)
	mux.HandleFunc("DELETE /api/entities/{id}", h.DeleteEntity)
	mux.HandleFunc("PUT /api/entities/{id}/address", h.SetAddress)
	mux.HandleFunc("PUT /api/entities/{id}/coms", h.SetComsMode)
	mux.HandleFunc("PUT /api/entities/{id}/name", h.SetName)
	mux.HandleFunc("PUT /api/entities/{id}/parameters/{param}", h.SetParameter)

	mux.HandleFunc("GET /api/protocols/{protocol}/mutes", h.GetMutes)
	mux.HandleFunc("PUT /api/protocols/{protocol}/mutes", h.SetMutes)

	mux.HandleFunc("GET /api/project", h.GetProject)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// TopologyResponse describes the routing state
type TopologyResponse struct {
	domain.TopologyConfig
	Capacity  int                        `json:"capacity"`
	Limit     int                        `json:"limit"`
	Online    bool                       `json:"online"`
	Connected map[domain.EndpointID]bool `json:"connected"`
	Master    domain.EndpointID          `json:"master,omitempty"`
}

// GetTopology returns the topology and connection state
func (h *Handler) GetTopology(w http.ResponseWriter, r *http.Request) {
	var resp TopologyResponse
	err := h.owner.Do(r.Context(), func() {
		tc := h.core.Topology()
		resp = TopologyResponse{
			TopologyConfig: tc,
			Capacity:       topology.Capacity(tc),
			Limit:          topology.Limit(tc),
			Online:         h.core.Online(),
			Connected:      map[domain.EndpointID]bool{domain.EndpointPrimary: h.core.IsConnected(domain.EndpointPrimary)},
		}
		if tc.Secondary != nil {
			resp.Connected[domain.EndpointSecondary] = h.core.IsConnected(domain.EndpointSecondary)
		}
		if master, ok := h.core.GetMaster(); ok {
			resp.Master = master
		}
	})
	if err != nil {
		h.unavailable(w, err)
		return
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// SetMode switches the topology mode
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	mode, err := domain.ParseTopologyMode(req.Mode)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	h.run(w, r, func() error { return h.core.SetTopologyMode(mode) })
}

// SetActiveParallel selects the leading endpoint in Parallel mode
func (h *Handler) SetActiveParallel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	ep, err := domain.ParseEndpointID(req.Endpoint)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}
	h.run(w, r, func() error { return h.core.SetActiveParallel(domain.ObserverHost, ep) })
}

// ListEntities returns all active entities
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	var kind domain.ProcessorKind
	if q := r.URL.Query().Get("kind"); q != "" {
		k, err := domain.ParseProcessorKind(q)
		if err != nil {
			h.writeBadRequest(w, err)
			return
		}
		kind = k
	}

	entities := []domain.Entity{}
	if err := h.owner.Do(r.Context(), func() {
		for _, e := range h.core.Entities() {
			if kind == "" || e.Kind == kind {
				entities = append(entities, e)
			}
		}
	}); err != nil {
		h.unavailable(w, err)
		return
	}
	h.writeJSON(w, entities, http.StatusOK)
}

// CreateEntity creates an entity at the lowest free address of its kind
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	kind, err := domain.ParseProcessorKind(req.Kind)
	if err != nil {
		h.writeBadRequest(w, err)
		return
	}

	var (
		e     domain.Entity
		opErr error
	)
	if err := h.owner.Do(r.Context(), func() {
		var id domain.ProcessorID
		if id, opErr = h.core.CreateEntity(kind); opErr == nil {
			e, opErr = h.core.Entity(id)
		}
	}); err != nil {
		h.unavailable(w, err)
		return
	}
	if opErr != nil {
		h.writeError(w, "Failed to create entity", opErr)
		return
	}
	h.writeJSON(w, e, http.StatusCreated)
}

// GetEntity returns a single entity
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	var (
		e     domain.Entity
		opErr error
	)
	if err := h.owner.Do(r.Context(), func() { e, opErr = h.core.Entity(id) }); err != nil {
		h.unavailable(w, err)
		return
	}
	if opErr != nil {
		h.writeError(w, "Failed to get entity", opErr)
		return
	}
	h.writeJSON(w, e, http.StatusOK)
}

// DeleteEntity destroys an entity
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	h.run(w, r, func() error { return h.core.DestroyEntity(id) })
}

// SetAddress moves an entity to another domain address
func (h *Handler) SetAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	var req struct {
		Address int `json:"address"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	var (
		e     domain.Entity
		opErr error
	)
	if err := h.owner.Do(r.Context(), func() {
		e, opErr = h.core.SetDomainAddress(domain.ObserverHost, id, req.Address)
	}); err != nil {
		h.unavailable(w, err)
		return
	}
	if opErr != nil {
		h.writeError(w, "Failed to set address", opErr)
		return
	}
	h.writeJSON(w, e, http.StatusOK)
}

// SetComsMode changes whether an entity sends, receives or both
func (h *Handler) SetComsMode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	var req struct {
		ComsMode string `json:"coms_mode"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	mode := domain.ParseComsMode(req.ComsMode)
	h.run(w, r, func() error { return h.core.SetComsMode(domain.ObserverHost, id, mode) })
}

// SetName renames an entity
func (h *Handler) SetName(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.run(w, r, func() error { return h.core.SetName(domain.ObserverHost, id, req.Name) })
}

// SendResponse reports where a parameter write was delivered
type SendResponse struct {
	Targets   []domain.Target            `json:"targets"`
	Delivered map[domain.EndpointID]bool `json:"delivered"`
	Complete  bool                       `json:"complete"`
}

// SetParameter writes a parameter value and routes it to the endpoints
func (h *Handler) SetParameter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	param := r.PathValue("param")
	var req struct {
		Values []float64 `json:"values"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Values) == 0 {
		h.writeBadRequest(w, errors.New("values are required"))
		return
	}

	var (
		report topology.SendReport
		opErr  error
	)
	if err := h.owner.Do(r.Context(), func() {
		report, opErr = h.core.SetParameter(domain.ObserverHost, id, param, req.Values)
	}); err != nil {
		h.unavailable(w, err)
		return
	}
	resp := SendResponse{Targets: report.Targets, Delivered: report.Delivered, Complete: report.Complete()}
	if opErr != nil && !report.Partial() {
		h.writeError(w, "Failed to set parameter", opErr)
		return
	}
	if opErr != nil {
		h.logger.Warn("parameter partially delivered", zap.Uint32("id", uint32(id)), zap.String("param", param), zap.Error(opErr))
		h.writeJSON(w, resp, http.StatusBadGateway)
		return
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// GetMutes returns the muted addresses of one kind for a protocol
func (h *Handler) GetMutes(w http.ResponseWriter, r *http.Request) {
	protocol := domain.ProtocolID(r.PathValue("protocol"))
	kind := domain.KindSoundObject
	if q := r.URL.Query().Get("kind"); q != "" {
		k, err := domain.ParseProcessorKind(q)
		if err != nil {
			h.writeBadRequest(w, err)
			return
		}
		kind = k
	}

	var (
		addrs []int
		opErr error
	)
	if err := h.owner.Do(r.Context(), func() { addrs, opErr = h.core.Muted(protocol, kind) }); err != nil {
		h.unavailable(w, err)
		return
	}
	if opErr != nil {
		h.writeError(w, "Failed to get mutes", opErr)
		return
	}
	if addrs == nil {
		addrs = []int{}
	}
	h.writeJSON(w, map[string]any{"protocol": protocol, "kind": kind, "addresses": addrs}, http.StatusOK)
}

// SetMutes mutes or unmutes entities for a protocol
func (h *Handler) SetMutes(w http.ResponseWriter, r *http.Request) {
	protocol := domain.ProtocolID(r.PathValue("protocol"))
	var req struct {
		IDs   []domain.ProcessorID `json:"ids"`
		Muted bool                 `json:"muted"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	var (
		changed bool
		opErr   error
	)
	if err := h.owner.Do(r.Context(), func() {
		changed, opErr = h.core.SetMuted(domain.ObserverHost, protocol, req.IDs, req.Muted)
	}); err != nil {
		h.unavailable(w, err)
		return
	}
	if opErr != nil {
		h.writeError(w, "Failed to set mutes", opErr)
		return
	}
	h.writeJSON(w, map[string]bool{"changed": changed}, http.StatusOK)
}

// GetProject returns a snapshot of the project
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	var (
		p     domain.Project
		opErr error
	)
	if err := h.owner.Do(r.Context(), func() { p, opErr = h.core.Snapshot() }); err != nil {
		h.unavailable(w, err)
		return
	}
	if opErr != nil {
		h.writeError(w, "Failed to snapshot project", opErr)
		return
	}
	h.writeJSON(w, p, http.StatusOK)
}

// Helper methods

// run dispatches an operation that returns only an error
func (h *Handler) run(w http.ResponseWriter, r *http.Request, fn func() error) {
	var opErr error
	if err := h.owner.Do(r.Context(), func() { opErr = fn() }); err != nil {
		h.unavailable(w, err)
		return
	}
	if opErr != nil {
		h.writeError(w, "Request failed", opErr)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *Handler) entityID(w http.ResponseWriter, r *http.Request) (domain.ProcessorID, bool) {
	n, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil || n == 0 {
		h.writeJSONError(w, "Invalid entity ID", r.PathValue("id"), http.StatusBadRequest)
		return 0, false
	}
	return domain.ProcessorID(n), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSONError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode JSON", zap.Error(err))
	}
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, err error) {
	h.writeJSONError(w, "Bad request", err.Error(), http.StatusBadRequest)
}

// writeError maps domain sentinels to status codes
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	h.writeJSONError(w, msg, err.Error(), statusFor(err))
}

func (h *Handler) writeJSONError(w http.ResponseWriter, error, details string, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		h.logger.Warn(error, zap.String("details", details), zap.Int("status", statusCode))
	}
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownEntity), errors.Is(err, domain.ErrUnknownProtocol):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, domain.ErrNoSecondary):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEngineRejected):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) unavailable(w http.ResponseWriter, err error) {
	h.writeJSONError(w, "Core unavailable", err.Error(), http.StatusServiceUnavailable)
}

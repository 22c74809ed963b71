package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"blueprint-sync/internal/costing"
	"blueprint-sync/internal/middleware"
	"blueprint-sync/internal/models"
	"blueprint-sync/internal/repository"
	"blueprint-sync/internal/structure"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Settings are the tunables of the derived views
type Settings struct {
	ColumnDeadBand    float64
	AverageHourlyWage float64
}

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	blueprints BlueprintStore
	updates    UpdateLog // optional
	catalog    Catalog
	relay      Relay
	rooms      RoomStats
	settings   Settings
	checks     map[string]HealthCheck
}

func NewHandler(
	blueprints BlueprintStore,
	updates UpdateLog,
	catalog Catalog,
	relay Relay,
	rooms RoomStats,
	settings Settings,
) *Handler {
	if settings.AverageHourlyWage <= 0 {
		settings.AverageHourlyWage = costing.DefaultAverageHourlyWage
	}
	return &Handler{
		blueprints: blueprints,
		updates:    updates,
		catalog:    catalog,
		relay:      relay,
		rooms:      rooms,
		settings:   settings,
		checks:     make(map[string]HealthCheck),
	}
}

// WithHealthCheck adds a dependency to /api/health. Call before serving.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks[name] = check
	return h
}

const healthCheckTimeout = 2 * time.Second

// Health reports 503 naming every dependency that failed its check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("⚠️  Health check failed")
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "degraded", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BlueprintResponse is a saved blueprint as returned by the API
type BlueprintResponse struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	models.Snapshot
}

func toResponse(bp *models.SavedBlueprint) (*BlueprintResponse, error) {
	snapshot, err := repository.DecodeSnapshot(bp)
	if err != nil {
		return nil, err
	}
	return &BlueprintResponse{ID: bp.ID, Version: bp.Version, UpdatedAt: bp.UpdatedAt, Snapshot: *snapshot}, nil
}

// Blueprint handlers

func (h *Handler) GetBlueprint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	bp, err := h.blueprints.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := toResponse(bp)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SaveBlueprint stores the snapshot an editor sends on manual save
func (h *Handler) SaveBlueprint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var snapshot models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, span := middleware.StartSpan(r.Context(), "Blueprint.Save",
		attribute.String("blueprint.id", id),
		attribute.Int("nodes", len(snapshot.Nodes)),
		attribute.Int("edges", len(snapshot.Edges)),
	)
	defer span.End()

	saved, err := h.blueprints.Save(ctx, id, &snapshot)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		h.fail(w, r, err)
		return
	}
	resp, err := toResponse(saved)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	log.Info().Str("blueprint", id).Int("version", saved.Version).Msg("✓ Blueprint saved")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteBlueprint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.blueprints.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	// Forget the live history too, otherwise the next editor resurrects it
	if h.updates != nil {
		if err := h.updates.DeleteUpdates(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Derived views

// BuildStructure groups the posted snapshot's crew under projects
func (h *Handler) BuildStructure(w http.ResponseWriter, r *http.Request) {
	var snapshot models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var projectIDs, crewIDs []string
	for _, n := range snapshot.Nodes {
		switch n.Type {
		case models.NodeTypeProject:
			projectIDs = append(projectIDs, n.Data.ID)
		case models.NodeTypeCrew:
			crewIDs = append(crewIDs, n.Data.ID)
		}
	}

	projects, err := h.catalog.ProjectNames(r.Context(), projectIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	crew, err := h.catalog.CrewNames(r.Context(), crewIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result := structure.Build(snapshot.Nodes, structure.MapLookup(projects), structure.MapLookup(crew),
		structure.Options{ColumnDeadBand: h.settings.ColumnDeadBand})
	writeJSON(w, http.StatusOK, result)
}

// ComputeCosting prices the crew of the posted snapshot
func (h *Handler) ComputeCosting(w http.ResponseWriter, r *http.Request) {
	var snapshot models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, costing.Compute(snapshot.Nodes, h.settings.AverageHourlyWage))
}

// Relay handlers

func (h *Handler) HandleRoomWebSocket(w http.ResponseWriter, r *http.Request) {
	h.relay.HandleRoom(w, r)
}

func (h *Handler) GetPeers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	peers := h.rooms.Peers(id)
	resp := map[string]interface{}{
		"blueprint": id,
		"peers":     peers,
		"count":     len(peers),
	}
	if h.updates != nil {
		n, err := h.updates.CountUpdates(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		resp["relay_log"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	middleware.AddSpanError(r.Context(), err)
	log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

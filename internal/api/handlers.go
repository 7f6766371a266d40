package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/leasevault/internal/documents"
	"github.com/wesm/leasevault/internal/query"
	"github.com/wesm/leasevault/internal/scheduler"
	"github.com/wesm/leasevault/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// RecordResponse is a property with its tenant, if any.
type RecordResponse struct {
	PropertyID      string  `json:"property_id"`
	LandlordID      string  `json:"landlord_id"`
	FlatNum         string  `json:"flat_num"`
	Street          string  `json:"street"`
	PostCode        string  `json:"post_code"`
	City            string  `json:"city"`
	UnitsInBuilding *int64  `json:"units_in_building"`
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	Email           *string `json:"email"`
	Vacant          bool    `json:"vacant"`
}

// PropertyRequest is the body of POST /properties.
type PropertyRequest struct {
	ID              string `json:"id"`
	LandlordID      string `json:"landlord_id"`
	FlatNum         string `json:"flat_num"`
	Street          string `json:"street"`
	PostCode        string `json:"post_code"`
	City            string `json:"city"`
	UnitsInBuilding *int64 `json:"units_in_building"`
}

// TenantRequest is the body of PUT /records/{id}/tenant.
type TenantRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// LandlordRequest is the body of POST /landlords.
type LandlordRequest struct {
	ID string `json:"id"`
}

// DocumentResponse is one cached document.
type DocumentResponse struct {
	ID            int64     `json:"id"`
	Subject       string    `json:"subject"`
	Recipient     string    `json:"recipient"`
	DateSent      time.Time `json:"date_sent"`
	DateRetrieved time.Time `json:"date_retrieved"`
	Attachments   []string  `json:"attachments"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	PropertyID    string    `json:"property_id"`
}

// RefreshResponse summarizes a document refresh.
type RefreshResponse struct {
	Recipient  string `json:"recipient"`
	Fetched    int    `json:"fetched"`
	Inserted   int    `json:"inserted"`
	Refreshed  int    `json:"refreshed"`
	Purged     int    `json:"purged"`
	DurationMS int64  `json:"duration_ms"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool                  `json:"running"`
	Jobs    []scheduler.JobStatus `json:"jobs"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeOpError maps a failed operation to a status code and error code.
func (s *Server) writeOpError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrConstraintViolation):
		writeError(w, http.StatusConflict, "constraint_violation", err.Error())
	case errors.Is(err, query.ErrZeroCapacity):
		writeError(w, http.StatusUnprocessableEntity, "zero_capacity", err.Error())
	case errors.Is(err, documents.ErrUnknownTenant):
		writeError(w, http.StatusNotFound, "unknown_tenant", err.Error())
	case errors.Is(err, documents.ErrRemoteUnavailable):
		s.logger.Warn(op+" failed", "error", err)
		writeError(w, http.StatusBadGateway, "remote_unavailable", "Mail source could not be read")
	case errors.Is(err, store.ErrInconsistentState):
		s.logger.Error(op+" found inconsistent data", "error", err)
		writeError(w, http.StatusInternalServerError, "inconsistent_state", err.Error())
	case errors.Is(err, store.ErrInfrastructure):
		s.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database_unavailable", "Database not available")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "Request timed out")
	default:
		s.logger.Error(op+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+op)
	}
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func toRecordResponse(rec *store.Record) RecordResponse {
	resp := RecordResponse{
		PropertyID: rec.ID,
		LandlordID: rec.LandlordID,
		FlatNum:    rec.FlatNum,
		Street:     rec.Street,
		PostCode:   rec.PostCode,
		City:       rec.City,
		FirstName:  nullString(rec.FirstName),
		LastName:   nullString(rec.LastName),
		Email:      nullString(rec.Email),
		Vacant:     rec.Vacant(),
	}
	if rec.UnitsInBuilding.Valid {
		units := rec.UnitsInBuilding.Int64
		resp.UnitsInBuilding = &units
	}
	return resp
}

func toDocumentResponse(d store.Document) DocumentResponse {
	attachments := d.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return DocumentResponse{
		ID:            d.ID,
		Subject:       d.Subject,
		Recipient:     d.Recipient,
		DateSent:      d.DateSent,
		DateRetrieved: d.DateRetrieved,
		Attachments:   attachments,
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		PropertyID:    d.PropertyID,
	}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.GetAllRecords(r.Context())
	if err != nil {
		s.writeOpError(w, "list records", err)
		return
	}
	resp := make([]RecordResponse, len(records))
	for i := range records {
		resp[i] = toRecordResponse(&records[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": resp})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.records.GetRecord(r.Context(), id)
	if err != nil {
		s.writeOpError(w, "get record", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not_found", "Property not found")
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (s *Server) handleSetTenant(w http.ResponseWriter, r *http.Request) {
	var req TenantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := s.records.UpsertTenant(r.Context(), store.TenantInput{
		PropertyID: chi.URLParam(r, "id"),
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
	})
	if err != nil {
		s.writeOpError(w, "set tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"write": kind.String()})
}

func (s *Server) handleAddProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := store.Property{
		ID:         req.ID,
		LandlordID: req.LandlordID,
		FlatNum:    req.FlatNum,
		Street:     req.Street,
		PostCode:   req.PostCode,
		City:       req.City,
	}
	if req.UnitsInBuilding != nil {
		p.UnitsInBuilding = sql.NullInt64{Int64: *req.UnitsInBuilding, Valid: true}
	}
	if err := s.records.AddProperty(r.Context(), p); err != nil {
		s.writeOpError(w, "add property", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": p.ID})
}

func (s *Server) handleDeleteProperty(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.records.DeleteProperty(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, "delete property", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleListLandlords(w http.ResponseWriter, r *http.Request) {
	ids, err := s.records.ListLandlords(r.Context())
	if err != nil {
		s.writeOpError(w, "list landlords", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"landlords": ids})
}

func (s *Server) handleAddLandlord(w http.ResponseWriter, r *http.Request) {
	var req LandlordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.records.AddLandlord(r.Context(), req.ID)
	if err != nil {
		s.writeOpError(w, "add landlord", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"id": req.ID, "created": created})
}

func recipientParam(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "email"))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientParam(r)
	if err != nil || recipient == "" {
		writeError(w, http.StatusBadRequest, "invalid_email", "Recipient email is required")
		return
	}
	attachmentsOnly, _ := strconv.ParseBool(r.URL.Query().Get("attachments"))

	docs, err := s.docs.ListDocuments(r.Context(), recipient, attachmentsOnly)
	if err != nil {
		s.writeOpError(w, "list documents", err)
		return
	}
	resp := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		resp[i] = toDocumentResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipient": recipient, "documents": resp})
}

func (s *Server) handleRefreshDocuments(w http.ResponseWriter, r *http.Request) {
	recipient, err := recipientParam(r)
	if err != nil || recipient == "" {
		writeError(w, http.StatusBadRequest, "invalid_email", "Recipient email is required")
		return
	}
	summary, err := s.docs.Refresh(r.Context(), recipient)
	if err != nil {
		s.writeOpError(w, "refresh documents", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		Recipient:  summary.Recipient,
		Fetched:    summary.Fetched,
		Inserted:   summary.Inserted,
		Refreshed:  summary.Refreshed,
		Purged:     summary.Purged,
		DurationMS: summary.Duration.Milliseconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeOpError(w, "retrieve statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePropertiesByLandlord(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.PropertiesByLandlord(r.Context())
	if err != nil {
		s.writeOpError(w, "count properties", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"landlords": counts})
}

func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	buildings, err := s.engine.OccupancyByBuilding(r.Context())
	if err != nil {
		s.writeOpError(w, "compute occupancy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buildings": buildings})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusResponse{Jobs: []scheduler.JobStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running: s.scheduler.IsRunning(),
		Jobs:    s.scheduler.Status(),
	})
}

// handleTriggerRefresh starts a scheduled job now. The optional "email"
// query parameter selects a tenant job; without it every tenant is refreshed.
func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_disabled", "Scheduled refresh is not enabled")
		return
	}
	target := store.NormalizeEmail(r.URL.Query().Get("email"))
	if err := s.scheduler.Trigger(target); err != nil {
		writeError(w, http.StatusConflict, "refresh_error", err.Error())
		return
	}
	s.logger.Info("refresh triggered via API", "target", target)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

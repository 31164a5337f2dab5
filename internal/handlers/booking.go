package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicdesk/clinic-scheduler/internal/availability"
	"github.com/clinicdesk/clinic-scheduler/internal/model"
	"github.com/clinicdesk/clinic-scheduler/internal/scheduling"
)

// ReconciliationReader surfaces stuck reconciliation records for operators.
type ReconciliationReader interface {
	ListStuck(ctx context.Context, limit int) ([]model.ReconciliationRecord, error)
}

// SchedulerHandler translates HTTP requests into scheduling engine calls. The
// voice dialogue layer is its only client; responses are shaped so the agent
// can phrase them back to the patient (degraded flags, alternative slots).
type SchedulerHandler struct {
	engine *scheduling.Engine
	recon  ReconciliationReader
	logger *slog.Logger
}

func NewSchedulerHandler(engine *scheduling.Engine, recon ReconciliationReader, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{engine: engine, recon: recon, logger: logger}
}

type bookRequest struct {
	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
	Service      string `json:"service"`
	StartTime    string `json:"start_time"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	PatientName   string `json:"patient_name"`
	Service       string `json:"service"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Origin        string `json:"origin"`
	CreatedAt     string `json:"created_at"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotsResponse struct {
	Slots    []slotItem `json:"slots"`
	Degraded bool       `json:"degraded"`
}

type conflictResponse struct {
	Error        string     `json:"error"`
	Alternatives []slotItem `json:"alternatives,omitempty"`
}

type stuckRecordItem struct {
	RecordID      int64  `json:"record_id"`
	AppointmentID string `json:"appointment_id"`
	Op            string `json:"op"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error"`
}

func (h *SchedulerHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	service := strings.TrimSpace(r.URL.Query().Get("service"))
	if service == "" {
		http.Error(w, "service is required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("from")))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("to")))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	avail, err := h.engine.FreeSlots(r.Context(), service, from, to)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := slotsResponse{Slots: slotItems(avail.Slots), Degraded: avail.Degraded}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SchedulerHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)
	req.Service = strings.TrimSpace(req.Service)
	if req.PatientName == "" || req.PatientPhone == "" || req.Service == "" {
		http.Error(w, "patient_name, patient_phone, and service are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Book(r.Context(), scheduling.BookingRequest{
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		Service:      req.Service,
		Start:        start,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentItemFrom(appt))
}

func (h *SchedulerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	if err := h.engine.Cancel(r.Context(), req.AppointmentID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": req.AppointmentID,
		"status":         model.StatusCancelled,
	})
}

func (h *SchedulerHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Reschedule(r.Context(), req.AppointmentID, start)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentItemFrom(appt))
}

func (h *SchedulerHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	appt, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentItemFrom(appt))
}

func (h *SchedulerHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.engine.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, appointmentItemFrom(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

// StuckRecords exposes reconciliation records that exhausted their retries.
// The front desk dashboard polls this to surface appointments needing manual
// calendar fixes.
func (h *SchedulerHandler) StuckRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := h.recon.ListStuck(r.Context(), 50)
	if err != nil {
		http.Error(w, "failed to list stuck records", http.StatusInternalServerError)
		return
	}

	items := make([]stuckRecordItem, 0, len(records))
	for _, rec := range records {
		items = append(items, stuckRecordItem{
			RecordID:      rec.ID,
			AppointmentID: rec.AppointmentID,
			Op:            rec.Op,
			Attempts:      rec.Attempts,
			LastError:     rec.LastError,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *SchedulerHandler) writeEngineError(w http.ResponseWriter, err error) {
	var slotErr *scheduling.SlotTakenError
	switch {
	case errors.As(err, &slotErr):
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:        "time slot already booked",
			Alternatives: slotItems(slotErr.Alternatives),
		})
	case errors.Is(err, scheduling.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, conflictResponse{Error: "time slot already booked"})
	case errors.Is(err, scheduling.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, scheduling.ErrUnknownService),
		errors.Is(err, scheduling.ErrInvalidRange),
		errors.Is(err, scheduling.ErrPastDate),
		errors.Is(err, scheduling.ErrOutsideBusinessHours):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("scheduling request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func appointmentItemFrom(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID: appt.ID,
		PatientName:   appt.PatientName,
		Service:       appt.Service,
		StartTime:     appt.Start.UTC().Format(time.RFC3339),
		EndTime:       appt.End.UTC().Format(time.RFC3339),
		Status:        appt.Status,
		Origin:        appt.Origin,
		CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func slotItems(slots []availability.Interval) []slotItem {
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

package consultation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/platform/httpio"
	"github.com/Hadxxx/MedicIA/internal/store"
)

// ReportRenderer turns a consultation into a PDF document.
type ReportRenderer interface {
	RenderPDF(ctx context.Context, c *Consultation) ([]byte, error)
}

type Handler struct {
	svc *Service
	pdf ReportRenderer
	log *zap.Logger
	now func() time.Time
}

// NewHandler builds the HTTP handler. pdf may be nil, in which case the
// report download answers 503.
func NewHandler(svc *Service, pdf ReportRenderer, log *zap.Logger) *Handler {
	return &Handler{svc: svc, pdf: pdf, log: log.Named("consultation.http"), now: time.Now}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/consultations", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/messages", h.RecordMessage)
			r.Post("/chat", h.turn(ChannelPrimary))
			r.Post("/follow-up", h.turn(ChannelFollowUp))
			r.Post("/diagnosis", h.Synthesize)
			r.Put("/diagnosis", h.ApplyDiagnosis)
			r.Put("/diagnoses", h.EditDiagnoses)
			r.Put("/exams", h.EditExams)
			r.Put("/notes", h.SetDoctorNotes)
			r.Get("/report.pdf", h.Report)
		})
	})
	r.Get("/dashboard", h.Dashboard)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req Patient
	if !httpio.Decode(w, r, &req) {
		return
	}
	c, err := h.svc.Start(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusCreated, c)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order, err := store.ParseOrder(q.Get("order"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := Status(q.Get("status"))
	if status != "" && !status.Valid() {
		h.respondError(w, &ValidationError{Fields: []string{"status: unknown value " + string(status)}})
		return
	}

	list, err := h.svc.List(r.Context(), ListFilter{Order: order, Search: q.Get("q"), Status: status})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, c)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type RecordMessageRequest struct {
	Channel string `json:"channel"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) RecordMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req RecordMessageRequest
	if !httpio.Decode(w, r, &req) {
		return
	}
	ch, err := ParseChannel(req.Channel)
	if err != nil {
		h.respondError(w, err)
		return
	}
	c, err := h.svc.RecordMessage(r.Context(), id, ch, req.Role, req.Content)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusCreated, c)
}

type TurnRequest struct {
	Content string `json:"content"`
}

func (h *Handler) turn(ch Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httpio.PathUUID(w, r, "id")
		if !ok {
			return
		}
		var req TurnRequest
		if !httpio.Decode(w, r, &req) {
			return
		}
		res, err := h.svc.Turn(r.Context(), id, ch, req.Content)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpio.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) Synthesize(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.Synthesize(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, c)
}

func (h *Handler) ApplyDiagnosis(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req DiagnosisResult
	if !httpio.Decode(w, r, &req) {
		return
	}
	c, err := h.svc.ApplyDiagnosis(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, c)
}

type EditDiagnosesRequest struct {
	SuggestedDiagnoses []Diagnosis `json:"suggested_diagnoses"`
}

func (h *Handler) EditDiagnoses(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req EditDiagnosesRequest
	if !httpio.Decode(w, r, &req) {
		return
	}
	c, err := h.svc.EditDiagnoses(r.Context(), id, req.SuggestedDiagnoses)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, c)
}

type EditExamsRequest struct {
	SuggestedExams []Exam `json:"suggested_exams"`
}

func (h *Handler) EditExams(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req EditExamsRequest
	if !httpio.Decode(w, r, &req) {
		return
	}
	c, err := h.svc.EditExams(r.Context(), id, req.SuggestedExams)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, c)
}

type DoctorNotesRequest struct {
	DoctorNotes string `json:"doctor_notes"`
	Status      Status `json:"status"`
}

func (h *Handler) SetDoctorNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req DoctorNotesRequest
	if !httpio.Decode(w, r, &req) {
		return
	}
	c, err := h.svc.SetDoctorNotes(r.Context(), id, req.DoctorNotes, req.Status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, c)
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := httpio.PathUUID(w, r, "id")
	if !ok {
		return
	}
	if h.pdf == nil {
		httpio.Error(w, http.StatusServiceUnavailable, httpio.ErrorResponse{Error: "report rendering is not configured"})
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	data, err := h.pdf.RenderPDF(r.Context(), c)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="consulta-`+c.ID.String()+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context(), h.now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpio.JSON(w, http.StatusOK, d)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		verr *ValidationError
		serr *SynthesisError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpio.Error(w, http.StatusNotFound, httpio.ErrorResponse{Error: "consultation not found", Code: "not_found"})
	case errors.As(err, &verr):
		httpio.Error(w, http.StatusBadRequest, httpio.ErrorResponse{Error: "validation failed", Code: "validation_failed", Fields: verr.Fields})
	case errors.Is(err, store.ErrUnknownField),
		errors.Is(err, store.ErrImmutableField),
		errors.Is(err, store.ErrInvalidValue),
		errors.Is(err, store.ErrInvalidOrder),
		errors.Is(err, ErrInvalidChannel):
		httpio.Error(w, http.StatusBadRequest, httpio.ErrorResponse{Error: err.Error(), Code: "bad_request"})
	case errors.Is(err, ErrInsufficientTranscript):
		httpio.Error(w, http.StatusUnprocessableEntity, httpio.ErrorResponse{Error: err.Error(), Code: "insufficient_transcript"})
	case errors.As(err, &serr):
		httpio.Error(w, http.StatusBadGateway, httpio.ErrorResponse{Error: ErrMalformedSynthesisResult.Error(), Code: "malformed_synthesis_result", Fields: serr.Fields})
	case errors.Is(err, ErrTransportFailure):
		httpio.Error(w, http.StatusBadGateway, httpio.ErrorResponse{Error: ErrTransportFailure.Error(), Code: "transport_failure"})
	case errors.Is(err, ErrTurnPending):
		httpio.Error(w, http.StatusConflict, httpio.ErrorResponse{Error: err.Error(), Code: "turn_pending"})
	default:
		h.log.Error("request failed", zap.Error(err))
		httpio.Error(w, http.StatusInternalServerError, httpio.ErrorResponse{Error: "internal error"})
	}
}

package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/platform/metrics"
	"github.com/Hadxxx/MedicIA/internal/store"
)

// Generator produces the assistant's next message for a channel. The
// consultation passed in already holds the user's latest message.
type Generator interface {
	GenerateReply(ctx context.Context, ch Channel, c *Consultation) (string, error)
}

// Synthesizer returns the raw structured-reasoning output for a consultation.
// Parsing and validation happen here, not in the implementation.
type Synthesizer interface {
	Synthesize(ctx context.Context, c *Consultation) (string, error)
}

// ReportService delivers the finished consultation to the doctor.
type ReportService interface {
	SendDoctorReport(ctx context.Context, c *Consultation) error
}

type Options struct {
	TurnTimeout          time.Duration
	SynthesisTimeout     time.Duration
	MinSynthesisMessages int
}

func (o Options) withDefaults() Options {
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = 60 * time.Second
	}
	if o.SynthesisTimeout <= 0 {
		o.SynthesisTimeout = 120 * time.Second
	}
	if o.MinSynthesisMessages <= 0 {
		o.MinSynthesisMessages = 4
	}
	return o
}

type Service struct {
	repo        *Repository
	generator   Generator
	synthesizer Synthesizer
	reports     ReportService
	metrics     *metrics.Collector
	log         *zap.Logger
	opts        Options
	pending     *pendingSet
	now         func() time.Time
}

// NewService wires the lifecycle. reports may be nil when no doctor chat is
// configured.
func NewService(repo *Repository, gen Generator, syn Synthesizer, reports ReportService, m *metrics.Collector, log *zap.Logger, opts Options) *Service {
	return &Service{
		repo:        repo,
		generator:   gen,
		synthesizer: syn,
		reports:     reports,
		metrics:     m,
		log:         log.Named("consultation"),
		opts:        opts.withDefaults(),
		pending:     newPendingSet(),
		now:         time.Now,
	}
}

func (s *Service) Start(ctx context.Context, p Patient) (*Consultation, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, &ValidationError{Fields: []string{"patient_name: required"}}
	}

	fields, err := store.FieldsOf(p)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.Create(ctx, fields)
	if err != nil {
		return nil, err
	}

	s.metrics.ConsultationsStarted.Inc()
	s.log.Info("consultation started", zap.String("consultation_id", c.ID.String()))
	return c, nil
}

// RecordMessage appends one message to a channel. The timestamp is taken at
// append time and never precedes the channel's previous message. It fails
// with ErrTurnPending while a turn or synthesis holds the channel.
func (s *Service) RecordMessage(ctx context.Context, id uuid.UUID, ch Channel, role Role, content string) (*Consultation, error) {
	var problems []string
	if !ch.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
	}
	if !role.Valid() {
		problems = append(problems, fmt.Sprintf("role: %q is not one of user, assistant", role))
	}
	if strings.TrimSpace(content) == "" {
		problems = append(problems, "content: required")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}

	if !s.pending.acquire(id, ch, writeConflicts(ch)...) {
		return nil, ErrTurnPending
	}
	defer s.pending.release(id, ch)
	return s.appendMessage(ctx, id, ch, role, content)
}

// appendMessage writes to the transcript without consulting the pending set.
// Callers hold the channel.
func (s *Service) appendMessage(ctx context.Context, id uuid.UUID, ch Channel, role Role, content string) (*Consultation, error) {
	c, err := s.repo.Modify(ctx, id, func(c *Consultation) error {
		c.appendMessage(ch, Message{Role: role, Content: content, Timestamp: s.now().UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.MessagesRecorded.WithLabelValues(string(ch), string(role)).Inc()
	return c, nil
}

// ApplyDiagnosis stores a validated synthesis result and completes the
// consultation in one write.
func (s *Service) ApplyDiagnosis(ctx context.Context, id uuid.UUID, r DiagnosisResult) (*Consultation, error) {
	if problems := r.problems(); len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	if r.RefiningQuestions == nil {
		r.RefiningQuestions = []string{}
	}
	if r.SuggestedExams == nil {
		r.SuggestedExams = []Exam{}
	}

	return s.repo.Update(ctx, id, store.Fields{
		"suggested_diagnoses": r.SuggestedDiagnoses,
		"symptoms_summary":    r.SymptomsSummary,
		"recommendations":     r.Recommendations,
		"refining_questions":  r.RefiningQuestions,
		"suggested_exams":     r.SuggestedExams,
		"urgency_level":       r.UrgencyLevel,
		"status":              StatusCompleted,
	})
}

func (s *Service) EditDiagnoses(ctx context.Context, id uuid.UUID, list []Diagnosis) (*Consultation, error) {
	if problems := diagnosisProblems(list); len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	if list == nil {
		list = []Diagnosis{}
	}
	return s.repo.Update(ctx, id, store.Fields{"suggested_diagnoses": list})
}

func (s *Service) EditExams(ctx context.Context, id uuid.UUID, list []Exam) (*Consultation, error) {
	if problems := examProblems(list); len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	if list == nil {
		list = []Exam{}
	}
	return s.repo.Update(ctx, id, store.Fields{"suggested_exams": list})
}

// SetDoctorNotes saves notes and, when status is non-empty, the status with
// them. Any known status may follow any other.
func (s *Service) SetDoctorNotes(ctx context.Context, id uuid.UUID, notes string, status Status) (*Consultation, error) {
	fields := store.Fields{"doctor_notes": notes}
	if status != "" {
		if !status.Valid() {
			return nil, &ValidationError{Fields: []string{fmt.Sprintf("status: %q is not a known status", status)}}
		}
		fields["status"] = status
	}
	return s.repo.Update(ctx, id, fields)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.Get(ctx, id)
}

type ListFilter struct {
	Order store.Order
	// Search matches patient name or chief complaint, case-insensitively.
	Search string
	Status Status
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Consultation, error) {
	all, err := s.repo.List(ctx, f.Order)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(f.Search))
	if q == "" && f.Status == "" {
		return all, nil
	}

	out := make([]*Consultation, 0, len(all))
	for _, c := range all {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(c.PatientName), q) &&
			!strings.Contains(strings.ToLower(c.ChiefComplaint), q) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("consultation deleted", zap.String("consultation_id", id.String()))
	return nil
}

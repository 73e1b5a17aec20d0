package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var synthesisKeys = []string{
	"suggested_diagnoses",
	"symptoms_summary",
	"recommendations",
	"refining_questions",
	"suggested_exams",
	"urgency_level",
}

// Synthesize asks the reasoning collaborator for a diagnosis and applies it.
// The consultation is left untouched unless the result validates. Only one
// synthesis runs per consultation, and never alongside a primary turn.
func (s *Service) Synthesize(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	if !s.pending.acquire(id, synthesisSlot, ChannelPrimary) {
		return nil, ErrTurnPending
	}
	defer s.pending.release(id, synthesisSlot)

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n := len(c.ChatMessages); n < s.opts.MinSynthesisMessages {
		s.metrics.SynthesisTotal.WithLabelValues("insufficient").Inc()
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientTranscript, n, s.opts.MinSynthesisMessages)
	}

	synCtx, cancel := context.WithTimeout(ctx, s.opts.SynthesisTimeout)
	raw, err := s.synthesizer.Synthesize(synCtx, c)
	cancel()
	if err != nil {
		s.metrics.SynthesisTotal.WithLabelValues("transport_error").Inc()
		s.log.Warn("synthesis call failed", zap.String("consultation_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	result, err := ParseSynthesis(raw)
	if err != nil {
		s.metrics.SynthesisTotal.WithLabelValues("malformed").Inc()
		s.log.Warn("synthesis result rejected", zap.String("consultation_id", id.String()), zap.Error(err))
		return nil, err
	}

	updated, err := s.ApplyDiagnosis(ctx, id, result)
	if err != nil {
		return nil, err
	}
	s.metrics.SynthesisTotal.WithLabelValues("completed").Inc()
	s.log.Info("diagnosis applied",
		zap.String("consultation_id", id.String()),
		zap.Int("diagnoses", len(updated.SuggestedDiagnoses)),
		zap.String("urgency", string(updated.UrgencyLevel)),
	)

	s.deliverReport(ctx, updated)
	return updated, nil
}

func (s *Service) deliverReport(ctx context.Context, c *Consultation) {
	if s.reports == nil {
		return
	}
	if err := s.reports.SendDoctorReport(context.WithoutCancel(ctx), c); err != nil {
		s.log.Warn("doctor report not delivered", zap.String("consultation_id", c.ID.String()), zap.Error(err))
	}
}

type rawDiagnosis struct {
	Diagnosis  string      `json:"diagnosis"`
	Confidence json.Number `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

// ParseSynthesis validates a structured-reasoning response. The object must
// have exactly the six result keys and nothing may follow it; Markdown code
// fences are tolerated.
// Every failing field is reported in the returned *SynthesisError.
func ParseSynthesis(raw string) (DiagnosisResult, error) {
	body := stripCodeFence(raw)

	var obj map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return DiagnosisResult{}, &SynthesisError{Fields: []string{"response: not a JSON object"}}
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return DiagnosisResult{}, &SynthesisError{Fields: []string{"response: trailing content after JSON object"}}
	}

	var problems []string
	for _, k := range synthesisKeys {
		if _, ok := obj[k]; !ok {
			problems = append(problems, k+": missing")
		}
	}
	var extra []string
	for k := range obj {
		if !isSynthesisKey(k) {
			extra = append(extra, k+": unexpected key")
		}
	}
	sort.Strings(extra)
	problems = append(problems, extra...)

	var (
		r     DiagnosisResult
		diags []rawDiagnosis
	)
	decodeField := func(key string, dst any) {
		v, ok := obj[key]
		if !ok {
			return
		}
		d := json.NewDecoder(bytes.NewReader(v))
		d.DisallowUnknownFields()
		if err := d.Decode(dst); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", key, describeDecodeError(err)))
		}
	}
	decodeField("suggested_diagnoses", &diags)
	decodeField("symptoms_summary", &r.SymptomsSummary)
	decodeField("recommendations", &r.Recommendations)
	decodeField("refining_questions", &r.RefiningQuestions)
	decodeField("suggested_exams", &r.SuggestedExams)
	decodeField("urgency_level", &r.UrgencyLevel)

	for i, d := range diags {
		conf, err := d.Confidence.Int64()
		if err != nil {
			problems = append(problems, fmt.Sprintf("suggested_diagnoses[%d].confidence: %q is not an integer", i, d.Confidence))
			conf = 0
		}
		r.SuggestedDiagnoses = append(r.SuggestedDiagnoses, Diagnosis{
			Diagnosis:  d.Diagnosis,
			Confidence: int(conf),
			Reasoning:  d.Reasoning,
		})
	}

	if _, ok := obj["suggested_diagnoses"]; ok {
		problems = append(problems, r.problems()...)
	} else {
		// Already reported as missing; skip the "must not be empty" duplicate.
		for _, p := range r.problems() {
			if !strings.HasPrefix(p, "suggested_diagnoses:") {
				problems = append(problems, p)
			}
		}
	}

	if len(problems) > 0 {
		return DiagnosisResult{}, &SynthesisError{Fields: dedupe(problems)}
	}
	return r, nil
}

func isSynthesisKey(k string) bool {
	for _, s := range synthesisKeys {
		if s == k {
			return true
		}
	}
	return false
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("%s has the wrong type (%s)", typeErr.Field, typeErr.Value)
		}
		return fmt.Sprintf("wrong type (%s)", typeErr.Value)
	}
	return err.Error()
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

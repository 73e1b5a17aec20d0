package consultation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTranscript(t *testing.T, env *testEnv, c *Consultation, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := env.svc.RecordMessage(context.Background(), c.ID, ChannelPrimary, role, "mensagem")
		require.NoError(t, err)
	}
}

func TestSynthesize_AnaScenario_RejectedBeforeInvocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := startAna(t, env.svc)
	assert.Equal(t, StatusInProgress, c.Status)
	assert.Empty(t, c.ChatMessages)

	c, err := env.svc.RecordMessage(ctx, c.ID, ChannelPrimary, RoleUser, "febre")
	require.NoError(t, err)
	assert.Len(t, c.ChatMessages, 1)

	_, err = env.svc.Synthesize(ctx, c.ID)
	assert.ErrorIs(t, err, ErrInsufficientTranscript)
	assert.Equal(t, 0, env.syn.calls)
}

func TestSynthesize_AppliesResultAndSendsReport(t *testing.T) {
	env := newTestEnv(t)
	env.syn.raw = "```json\n" + gripeJSON + "\n```"
	c := startAna(t, env.svc)
	seedTranscript(t, env, c, 4)

	got, err := env.svc.Synthesize(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, []Diagnosis{{Diagnosis: "Gripe", Confidence: 70, Reasoning: "..."}}, got.SuggestedDiagnoses)
	assert.Equal(t, UrgencyLow, got.UrgencyLevel)
	assert.Len(t, got.ChatMessages, 4)
	assert.Equal(t, 1, env.syn.calls)
	assert.Equal(t, []uuid.UUID{c.ID}, env.reports.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SynthesisTotal.WithLabelValues("completed")))
}

func TestSynthesize_ReportFailureIsNotSurfaced(t *testing.T) {
	env := newTestEnv(t)
	env.syn.raw = gripeJSON
	env.reports.err = errors.New("telegram down")
	c := startAna(t, env.svc)
	seedTranscript(t, env, c, 4)

	got, err := env.svc.Synthesize(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestSynthesize_MalformedLeavesStatusUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.syn.raw = `{"suggested_diagnoses": [], "urgency_level": "altissima"}`
	c := startAna(t, env.svc)
	seedTranscript(t, env, c, 4)

	_, err := env.svc.Synthesize(context.Background(), c.ID)
	require.ErrorIs(t, err, ErrMalformedSynthesisResult)

	var serr *SynthesisError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Fields, "symptoms_summary: missing")
	assert.Contains(t, serr.Fields, "suggested_diagnoses: must not be empty")

	got, err := env.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Empty(t, got.SuggestedDiagnoses)
	assert.Empty(t, env.reports.sent)
}

func TestSynthesize_TransportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.syn.err = errors.New("circuit breaker is open")
	c := startAna(t, env.svc)
	seedTranscript(t, env, c, 4)

	_, err := env.svc.Synthesize(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.NotErrorIs(t, err, ErrMalformedSynthesisResult)

	got, err := env.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestParseSynthesis(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantFields []string // prefixes
	}{
		{
			name: "valid plain",
			raw:  gripeJSON,
		},
		{
			name: "valid fenced without language",
			raw:  "```\n" + gripeJSON + "\n```",
		},
		{
			name:       "not json",
			raw:        "Paciente provavelmente tem gripe.",
			wantFields: []string{"response: not a JSON object"},
		},
		{
			name:       "second object after the result",
			raw:        gripeJSON + ` {"urgency_level":"nope"} trailing text`,
			wantFields: []string{"response: trailing content after JSON object"},
		},
		{
			name:       "prose after the result",
			raw:        gripeJSON + "\nEspero ter ajudado.",
			wantFields: []string{"response: trailing content after JSON object"},
		},
		{
			name: "extra key",
			raw: `{"suggested_diagnoses":[{"diagnosis":"Gripe","confidence":70,"reasoning":""}],
				"symptoms_summary":"","recommendations":"","refining_questions":[],"suggested_exams":[],
				"urgency_level":"baixa","notes":"x"}`,
			wantFields: []string{"notes: unexpected key"},
		},
		{
			name: "fractional confidence",
			raw: `{"suggested_diagnoses":[{"diagnosis":"Gripe","confidence":70.5,"reasoning":""}],
				"symptoms_summary":"","recommendations":"","refining_questions":[],"suggested_exams":[],
				"urgency_level":"baixa"}`,
			wantFields: []string{`suggested_diagnoses[0].confidence: "70.5" is not an integer`},
		},
		{
			name: "bad exam priority and wrong type",
			raw: `{"suggested_diagnoses":[{"diagnosis":"Gripe","confidence":70,"reasoning":""}],
				"symptoms_summary":42,"recommendations":"","refining_questions":[],
				"suggested_exams":[{"exam":"TC","reason":"","priority":"urgente"}],
				"urgency_level":"baixa"}`,
			wantFields: []string{
				"symptoms_summary: ",
				`suggested_exams[0].priority: "urgente" is not one of alta, media, baixa`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseSynthesis(tt.raw)
			if tt.wantFields == nil {
				require.NoError(t, err)
				assert.Equal(t, "Gripe", r.SuggestedDiagnoses[0].Diagnosis)
				assert.Equal(t, 70, r.SuggestedDiagnoses[0].Confidence)
				return
			}
			var serr *SynthesisError
			require.ErrorAs(t, err, &serr)
			assert.ErrorIs(t, err, ErrMalformedSynthesisResult)
			require.Len(t, serr.Fields, len(tt.wantFields))
			for i, want := range tt.wantFields {
				assert.True(t, strings.HasPrefix(serr.Fields[i], want), "field %d: got %q, want prefix %q", i, serr.Fields[i], want)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1}  "))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```{\"a\":1}```"))
}

func TestSynthesize_OneAtATimePerConsultation(t *testing.T) {
	env := newTestEnv(t)
	env.syn.raw = gripeJSON
	env.syn.started = make(chan struct{}, 1)
	env.syn.release = make(chan struct{})
	c := startAna(t, env.svc)
	seedTranscript(t, env, c, 4)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Synthesize(ctx, c.ID)
		done <- err
	}()
	<-env.syn.started

	_, err := env.svc.Synthesize(ctx, c.ID)
	assert.ErrorIs(t, err, ErrTurnPending)

	// The primary transcript is frozen while the result is being produced.
	_, err = env.svc.Turn(ctx, c.ID, ChannelPrimary, "mais um sintoma")
	assert.ErrorIs(t, err, ErrTurnPending)
	_, err = env.svc.RecordMessage(ctx, c.ID, ChannelPrimary, RoleUser, "mais um sintoma")
	assert.ErrorIs(t, err, ErrTurnPending)

	// The doctor's channel stays open.
	_, err = env.svc.RecordMessage(ctx, c.ID, ChannelFollowUp, RoleUser, "dúvida")
	require.NoError(t, err)

	close(env.syn.release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, env.syn.callCount())
	assert.Equal(t, []uuid.UUID{c.ID}, env.reports.sent)
	assert.False(t, env.svc.pending.busy(c.ID, synthesisSlot))

	got, err := env.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.ChatMessages, 4)
}

func TestSynthesize_RejectedWhilePrimaryTurnPending(t *testing.T) {
	env := newTestEnv(t)
	env.syn.raw = gripeJSON
	env.gen.started = make(chan struct{}, 1)
	env.gen.release = make(chan struct{})
	c := startAna(t, env.svc)
	seedTranscript(t, env, c, 4)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Turn(ctx, c.ID, ChannelPrimary, "febre alta")
		done <- err
	}()
	<-env.gen.started

	_, err := env.svc.Synthesize(ctx, c.ID)
	assert.ErrorIs(t, err, ErrTurnPending)
	assert.Equal(t, 0, env.syn.callCount())

	close(env.gen.release)
	require.NoError(t, <-done)

	got, err := env.svc.Synthesize(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Len(t, got.ChatMessages, 6)
}

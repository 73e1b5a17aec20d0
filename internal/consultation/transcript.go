package consultation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	primaryFallback  = "• Erro temporário no sistema\n• Tente novamente em alguns instantes\n• Se persistir, verifique sua conexão"
	followUpFallback = "Desculpe, ocorreu um erro ao processar sua pergunta. Tente novamente."
)

var errEmptyReply = errors.New("empty reply")

// FallbackMessage is the assistant text appended when a turn cannot be answered.
func FallbackMessage(ch Channel) string {
	if ch == ChannelFollowUp {
		return followUpFallback
	}
	return primaryFallback
}

type TurnResult struct {
	Consultation *Consultation `json:"consultation"`
	Reply        *Message      `json:"reply,omitempty"`
	Fallback     bool          `json:"fallback"`
	Ignored      bool          `json:"ignored"`
}

type pendingKey struct {
	id uuid.UUID
	ch Channel
}

// synthesisSlot is the pending key held while a consultation's synthesis
// call is in flight. It is never a transcript channel.
const synthesisSlot Channel = "synthesis"

// pendingSet tracks which (consultation, channel) pairs have a request in
// flight.
type pendingSet struct {
	mu sync.Mutex
	m  map[pendingKey]struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{m: make(map[pendingKey]struct{})}
}

// acquire reserves ch for id. It fails if ch or any of the conflicting slots
// is already held for the same consultation.
func (p *pendingSet) acquire(id uuid.UUID, ch Channel, conflicts ...Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := pendingKey{id, ch}
	if _, held := p.m[k]; held {
		return false
	}
	for _, other := range conflicts {
		if _, held := p.m[pendingKey{id, other}]; held {
			return false
		}
	}
	p.m[k] = struct{}{}
	return true
}

func (p *pendingSet) release(id uuid.UUID, ch Channel) {
	p.mu.Lock()
	delete(p.m, pendingKey{id, ch})
	p.mu.Unlock()
}

// writeConflicts lists the slots that must be free before ch's transcript
// may change. A synthesis reads the primary transcript.
func writeConflicts(ch Channel) []Channel {
	if ch == ChannelPrimary {
		return []Channel{synthesisSlot}
	}
	return nil
}

// Turn runs one exchange on a channel: append the user's text, ask the
// generator, append its reply or the channel's fallback. Blank input is a
// no-op. Only one turn per channel per consultation runs at a time.
func (s *Service) Turn(ctx context.Context, id uuid.UUID, ch Channel, input string) (*TurnResult, error) {
	if !ch.Valid() {
		return nil, ErrInvalidChannel
	}

	text := strings.TrimSpace(input)
	if text == "" {
		c, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &TurnResult{Consultation: c, Ignored: true}, nil
	}

	if !s.pending.acquire(id, ch, writeConflicts(ch)...) {
		return nil, ErrTurnPending
	}
	defer s.pending.release(id, ch)

	c, err := s.appendMessage(ctx, id, ch, RoleUser, text)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.opts.TurnTimeout)
	reply, err := s.generator.GenerateReply(genCtx, ch, c)
	cancel()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyReply
	}

	fallback := err != nil
	if fallback {
		s.log.Warn("turn answered with fallback",
			zap.String("consultation_id", id.String()),
			zap.String("channel", string(ch)),
			zap.Error(err),
		)
		s.metrics.TurnFallbacks.WithLabelValues(string(ch)).Inc()
		reply = FallbackMessage(ch)
	}

	// The reply is kept even if the caller has gone away.
	c, err = s.appendMessage(context.WithoutCancel(ctx), id, ch, RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	msgs := c.Transcript(ch)
	last := msgs[len(msgs)-1]
	return &TurnResult{Consultation: c, Reply: &last, Fallback: fallback}, nil
}

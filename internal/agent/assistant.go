package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/consultation"
)

const (
	operationInterview = "interview"
	operationFollowUp  = "follow_up"
	operationSynthesis = "synthesis"
)

// Assistant answers interview and follow-up turns and produces diagnosis
// syntheses. Clients are tried in order; a later client is only used
// when an earlier one fails and the caller is still waiting.
type Assistant struct {
	clients []*Client
	log     *zap.Logger
}

var (
	_ consultation.Generator   = (*Assistant)(nil)
	_ consultation.Synthesizer = (*Assistant)(nil)
)

func NewAssistant(log *zap.Logger, clients ...*Client) (*Assistant, error) {
	if len(clients) == 0 {
		return nil, errors.New("assistant needs at least one client")
	}
	return &Assistant{clients: clients, log: log.Named("assistant")}, nil
}

func (a *Assistant) GenerateReply(ctx context.Context, ch consultation.Channel, c *consultation.Consultation) (string, error) {
	switch ch {
	case consultation.ChannelPrimary:
		msgs, err := interviewMessages(c)
		if err != nil {
			return "", err
		}
		return a.run(ctx, completion{
			operation:   operationInterview,
			messages:    msgs,
			maxTokens:   500,
			temperature: 0.7,
		})
	case consultation.ChannelFollowUp:
		msgs, err := followUpMessages(c)
		if err != nil {
			return "", err
		}
		return a.run(ctx, completion{
			operation:   operationFollowUp,
			messages:    msgs,
			maxTokens:   500,
			temperature: 0.5,
		})
	}
	return "", fmt.Errorf("%w: %q", consultation.ErrInvalidChannel, ch)
}

func (a *Assistant) Synthesize(ctx context.Context, c *consultation.Consultation) (string, error) {
	msgs, err := synthesisMessages(c)
	if err != nil {
		return "", err
	}
	return a.run(ctx, completion{
		operation:   operationSynthesis,
		messages:    msgs,
		maxTokens:   1500,
		temperature: 0.3,
		jsonOutput:  true,
	})
}

func (a *Assistant) run(ctx context.Context, req completion) (string, error) {
	var errs []error
	for i, client := range a.clients {
		out, err := client.complete(ctx, req)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", client.Model(), err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(a.clients) {
			a.log.Info("falling back to next model",
				zap.String("operation", req.operation),
				zap.String("failed", client.Model()),
				zap.String("next", a.clients[i+1].Model()),
			)
		}
	}
	return "", errors.Join(errs...)
}

package billing

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Charge struct {
	PaymentID uuid.UUID
	Amount    int64
	Method    Method
	Card      *Card
}

// Gateway charges a payment. A refused charge returns *DeclinedError; any
// other error means the outcome is unknown.
type Gateway interface {
	Charge(ctx context.Context, ch Charge) error
}

type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string { return "payment declined: " + e.Reason }

const declinedByIssuer = "Cartão recusado pelo banco emissor"

// SimulatedGateway approves a fixed share of charges after a delay.
type SimulatedGateway struct {
	successRate float64
	delay       time.Duration
	roll        func() float64
}

func NewSimulatedGateway(successRate float64, delay time.Duration) *SimulatedGateway {
	if successRate < 0 || successRate > 1 {
		successRate = 0.9
	}
	return &SimulatedGateway{successRate: successRate, delay: delay, roll: rand.Float64}
}

func (g *SimulatedGateway) Charge(ctx context.Context, ch Charge) error {
	if g.delay > 0 {
		t := time.NewTimer(g.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("charging payment %s: %w", ch.PaymentID, ctx.Err())
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return fmt.Errorf("charging payment %s: %w", ch.PaymentID, err)
	}

	if g.roll() < g.successRate {
		return nil
	}
	return &DeclinedError{Reason: declinedByIssuer}
}

type Card struct {
	Number     string `json:"number"`
	HolderName string `json:"holder_name"`
	Expiry     string `json:"expiry"`
	CVC        string `json:"cvc"`
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		if r == ' ' || r == '-' {
			return -1
		}
		return 'x'
	}, s)
}

func (c *Card) problems(now time.Time) []string {
	var out []string
	number := digitsOnly(c.Number)
	if len(number) < 13 || len(number) > 19 || strings.ContainsRune(number, 'x') {
		out = append(out, "card.number: must have 13 to 19 digits")
	}
	if strings.TrimSpace(c.HolderName) == "" {
		out = append(out, "card.holder_name: required")
	}
	if exp, err := time.Parse("01/06", strings.TrimSpace(c.Expiry)); err != nil {
		out = append(out, "card.expiry: must be MM/YY")
	} else if !exp.AddDate(0, 1, 0).After(now) {
		out = append(out, "card.expiry: card has expired")
	}
	if cvc := digitsOnly(c.CVC); len(cvc) < 3 || len(cvc) > 4 || strings.ContainsRune(cvc, 'x') {
		out = append(out, "card.cvc: must have 3 or 4 digits")
	}
	return out
}

// summary keeps only what is safe to persist.
func (c *Card) summary() *BillingInfo {
	number := digitsOnly(c.Number)
	last := number
	if len(last) > 4 {
		last = last[len(last)-4:]
	}
	return &BillingInfo{
		CardBrand:      CardBrand(number),
		CardLastDigits: last,
		CardHolderName: strings.TrimSpace(c.HolderName),
	}
}

var eloPrefixes = []string{
	"401178", "401179", "431274", "438935", "451416", "457393", "457631", "457632",
	"504175", "506699", "5067", "509", "627780", "636297", "636368", "650", "6516", "6550",
}

// CardBrand detects the brand from the number prefix. Elo ranges overlap
// Visa and Discover, so they are checked first.
func CardBrand(number string) string {
	n := digitsOnly(number)
	for _, p := range eloPrefixes {
		if strings.HasPrefix(n, p) {
			return "Elo"
		}
	}
	switch {
	case strings.HasPrefix(n, "606282"), strings.HasPrefix(n, "3841"):
		return "Hipercard"
	case strings.HasPrefix(n, "34"), strings.HasPrefix(n, "37"):
		return "American Express"
	case strings.HasPrefix(n, "36"), strings.HasPrefix(n, "38"), prefixBetween(n, 3, 300, 305):
		return "Diners Club"
	case strings.HasPrefix(n, "6011"), strings.HasPrefix(n, "65"):
		return "Discover"
	case prefixBetween(n, 2, 51, 55), prefixBetween(n, 4, 2221, 2720):
		return "Mastercard"
	case strings.HasPrefix(n, "4"):
		return "Visa"
	}
	return "Desconhecida"
}

func prefixBetween(n string, width, lo, hi int) bool {
	if len(n) < width {
		return false
	}
	v := 0
	for _, r := range n[:width] {
		if r < '0' || r > '9' {
			return false
		}
		v = v*10 + int(r-'0')
	}
	return v >= lo && v <= hi
}

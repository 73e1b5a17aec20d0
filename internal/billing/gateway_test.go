package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedGateway_Outcomes(t *testing.T) {
	g := NewSimulatedGateway(0.9, 0)

	g.roll = func() float64 { return 0.5 }
	assert.NoError(t, g.Charge(context.Background(), Charge{PaymentID: uuid.New()}))

	g.roll = func() float64 { return 0.95 }
	err := g.Charge(context.Background(), Charge{PaymentID: uuid.New()})
	var declined *DeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, declinedByIssuer, declined.Reason)
}

func TestSimulatedGateway_HonoursCancellation(t *testing.T) {
	g := NewSimulatedGateway(1, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Charge(ctx, Charge{PaymentID: uuid.New()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatedGateway_InvalidRateUsesDefault(t *testing.T) {
	assert.Equal(t, 0.9, NewSimulatedGateway(1.5, 0).successRate)
}

func TestCardBrand(t *testing.T) {
	tests := map[string]string{
		"4111 1111 1111 1111": "Visa",
		"5500 0000 0000 0004": "Mastercard",
		"2221 0000 0000 0009": "Mastercard",
		"3782 822463 10005":   "American Express",
		"6362 9700 0045 7013": "Elo",
		"4389 3500 0000 0000": "Elo",
		"6062 8288 8866 6688": "Hipercard",
		"3056 9309 0259 04":   "Diners Club",
		"6011 1111 1111 1117": "Discover",
		"9999 0000 0000 0000": "Desconhecida",
	}
	for number, want := range tests {
		assert.Equal(t, want, CardBrand(number), number)
	}
}

func TestCard_Summary(t *testing.T) {
	c := &Card{Number: "5500-0000-0000-0004", HolderName: " JOAO ", Expiry: "10/29", CVC: "321"}
	assert.Equal(t, &BillingInfo{CardBrand: "Mastercard", CardLastDigits: "0004", CardHolderName: "JOAO"}, c.summary())
	assert.Empty(t, c.problems(testNow))
}

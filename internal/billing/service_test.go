package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/platform/metrics"
	"github.com/Hadxxx/MedicIA/internal/store"
)

type fakeGateway struct {
	err     error
	charges []Charge
}

func (f *fakeGateway) Charge(ctx context.Context, ch Charge) error {
	f.charges = append(f.charges, ch)
	return f.err
}

var testNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

type testEnv struct {
	svc     *Service
	gw      *fakeGateway
	metrics *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := &fakeGateway{}
	m := metrics.NewCollector(prometheus.NewRegistry(), "test")
	svc := NewService(store.NewMemory(), gw, m, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return &testEnv{svc: svc, gw: gw, metrics: m}
}

func newCustomer(t *testing.T, svc *Service) *Customer {
	t.Helper()
	c, err := svc.CreateCustomer(context.Background(), NewCustomer{
		UserID:   "u-1",
		FullName: "Dra. Carla Souza",
		Email:    "carla@clinica.com.br",
	})
	require.NoError(t, err)
	return c
}

func validCard() *Card {
	return &Card{Number: "4111 1111 1111 1111", HolderName: "CARLA SOUZA", Expiry: "12/30", CVC: "123"}
}

func TestCreateCustomer_StartsTrial(t *testing.T) {
	env := newTestEnv(t)
	c := newCustomer(t, env.svc)

	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.Equal(t, SubscriptionTrial, c.SubscriptionStatus)
	require.NotNil(t, c.TrialEndsAt)
	assert.True(t, c.TrialEndsAt.Equal(testNow.Add(7*24*time.Hour)))
	assert.Nil(t, c.BillingInfo)

	got, err := env.svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dra. Carla Souza", got.FullName)
}

func TestCreateCustomer_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateCustomer(context.Background(), NewCustomer{Email: "not-an-email"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"full_name: required", "email: not a valid address"}, verr.Fields)
}

func TestCheckout_Success(t *testing.T) {
	env := newTestEnv(t)
	c := newCustomer(t, env.svc)

	res, err := env.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    c.ID,
		Plan:          "profissional",
		BillingCycle:  CycleMonthly,
		PaymentMethod: MethodCreditCard,
		Card:          validCard(),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, PaymentSucceeded, res.Payment.Status)
	assert.Equal(t, int64(9900), res.Payment.Amount)
	require.NotNil(t, res.Payment.PaidAt)

	assert.Equal(t, SubscriptionActive, res.Customer.SubscriptionStatus)
	assert.Equal(t, "profissional", res.Customer.CurrentPlan)
	require.NotNil(t, res.Customer.NextBillingDate)
	assert.True(t, res.Customer.NextBillingDate.Equal(time.Date(2025, 4, 10, 14, 30, 0, 0, time.UTC)))
	assert.Equal(t, &BillingInfo{CardBrand: "Visa", CardLastDigits: "1111", CardHolderName: "CARLA SOUZA"}, res.Customer.BillingInfo)

	require.Len(t, env.gw.charges, 1)
	assert.Equal(t, res.Payment.ID, env.gw.charges[0].PaymentID)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PaymentsTotal.WithLabelValues("succeeded")))

	stored, err := env.svc.GetPayment(context.Background(), res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentSucceeded, stored.Status)
}

func TestCheckout_YearlyPix(t *testing.T) {
	env := newTestEnv(t)
	c := newCustomer(t, env.svc)

	res, err := env.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    c.ID,
		Plan:          "enterprise",
		BillingCycle:  CycleYearly,
		PaymentMethod: MethodPix,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(199000), res.Payment.Amount)
	assert.True(t, res.Customer.NextBillingDate.Equal(testNow.AddDate(1, 0, 0)))
	assert.Nil(t, res.Customer.BillingInfo)
}

func TestCheckout_DeclinedMarksPaymentFailed(t *testing.T) {
	env := newTestEnv(t)
	env.gw.err = &DeclinedError{Reason: declinedByIssuer}
	c := newCustomer(t, env.svc)

	res, err := env.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    c.ID,
		Plan:          "basico",
		BillingCycle:  CycleMonthly,
		PaymentMethod: MethodCreditCard,
		Card:          validCard(),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, PaymentFailed, res.Payment.Status)
	assert.Equal(t, declinedByIssuer, res.Payment.FailureReason)
	assert.Nil(t, res.Payment.PaidAt)
	assert.Equal(t, SubscriptionTrial, res.Customer.SubscriptionStatus)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PaymentsTotal.WithLabelValues("failed")))
}

func TestCheckout_GatewayError(t *testing.T) {
	env := newTestEnv(t)
	env.gw.err = errors.New("connection reset")
	c := newCustomer(t, env.svc)

	_, err := env.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    c.ID,
		Plan:          "basico",
		BillingCycle:  CycleMonthly,
		PaymentMethod: MethodBoleto,
	})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	payments, err := env.svc.payments.List(context.Background(), store.NewestFirst)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, PaymentFailed, payments[0].Status)
}

func TestCheckout_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Checkout(context.Background(), CheckoutRequest{
		Plan:          "gold",
		BillingCycle:  "weekly",
		PaymentMethod: MethodCreditCard,
		Card:          &Card{Number: "4111", Expiry: "01/20", CVC: "1"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{
		"customer_id: required",
		`plan: "gold" is not a known plan`,
		`billing_cycle: "weekly" is not one of monthly, yearly`,
		"card.number: must have 13 to 19 digits",
		"card.holder_name: required",
		"card.expiry: card has expired",
		"card.cvc: must have 3 or 4 digits",
	}, verr.Fields)
	assert.Empty(t, env.gw.charges)
}

func TestCheckout_UnknownCustomer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    uuid.New(),
		Plan:          "basico",
		BillingCycle:  CycleMonthly,
		PaymentMethod: MethodPix,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, env.gw.charges)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/platform/metrics"
	"github.com/Hadxxx/MedicIA/internal/store"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

type Service struct {
	customers *store.Collection[Customer]
	payments  *store.Collection[Payment]
	gateway   Gateway
	metrics   *metrics.Collector
	log       *zap.Logger
	now       func() time.Time
}

func NewService(backend store.Backend, gw Gateway, m *metrics.Collector, log *zap.Logger) *Service {
	return &Service{
		customers: store.NewCollection[Customer](backend, store.KindCustomer, store.Fields{
			"subscription_status": SubscriptionTrial,
		}),
		payments: store.NewCollection[Payment](backend, store.KindPayment, store.Fields{
			"status": PaymentPending,
		}),
		gateway: gw,
		metrics: m,
		log:     log.Named("billing"),
		now:     time.Now,
	}
}

type NewCustomer struct {
	UserID      string `json:"user_id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Document    string `json:"document"`
	CompanyName string `json:"company_name"`
}

// CreateCustomer registers a customer on a seven-day trial.
func (s *Service) CreateCustomer(ctx context.Context, in NewCustomer) (*Customer, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)

	var problems []string
	if in.FullName == "" {
		problems = append(problems, "full_name: required")
	}
	if in.Email == "" {
		problems = append(problems, "email: required")
	} else if _, err := mail.ParseAddress(in.Email); err != nil {
		problems = append(problems, "email: not a valid address")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}

	fields, err := store.FieldsOf(in)
	if err != nil {
		return nil, err
	}
	fields["subscription_status"] = SubscriptionTrial
	fields["trial_ends_at"] = s.now().UTC().Add(TrialPeriod)

	c, err := s.customers.Create(ctx, fields)
	if err != nil {
		return nil, err
	}
	s.log.Info("customer created", zap.String("customer_id", c.ID.String()))
	return c, nil
}

func (s *Service) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.customers.Get(ctx, id)
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.Get(ctx, id)
}

type CheckoutRequest struct {
	CustomerID    uuid.UUID `json:"customer_id"`
	Plan          string    `json:"plan"`
	BillingCycle  Cycle     `json:"billing_cycle"`
	PaymentMethod Method    `json:"payment_method"`
	Card          *Card     `json:"card,omitempty"`
}

type CheckoutResult struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	Payment  *Payment  `json:"payment"`
	Customer *Customer `json:"customer"`
}

func (s *Service) validate(req CheckoutRequest) (Plan, error) {
	var problems []string
	if req.CustomerID == uuid.Nil {
		problems = append(problems, "customer_id: required")
	}
	plan, ok := FindPlan(req.Plan)
	if !ok {
		problems = append(problems, fmt.Sprintf("plan: %q is not a known plan", req.Plan))
	}
	if !req.BillingCycle.Valid() {
		problems = append(problems, fmt.Sprintf("billing_cycle: %q is not one of monthly, yearly", req.BillingCycle))
	}
	if !req.PaymentMethod.Valid() {
		problems = append(problems, fmt.Sprintf("payment_method: %q is not one of credit_card, pix, boleto", req.PaymentMethod))
	}
	if req.PaymentMethod == MethodCreditCard {
		if req.Card == nil {
			problems = append(problems, "card: required for credit_card")
		} else {
			problems = append(problems, req.Card.problems(s.now())...)
		}
	}
	if len(problems) > 0 {
		return Plan{}, &ValidationError{Fields: problems}
	}
	return plan, nil
}

// Checkout charges the customer for a plan. A declined charge is a normal
// outcome: the payment is marked failed and the result reports it.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	plan, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.customers.Get(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	payment, err := s.payments.Create(ctx, store.Fields{
		"customer_id":    req.CustomerID,
		"amount":         plan.AmountCents(req.BillingCycle),
		"plan_type":      plan.ID,
		"billing_cycle":  req.BillingCycle,
		"payment_method": req.PaymentMethod,
		"status":         PaymentProcessing,
	})
	if err != nil {
		return nil, err
	}
	log := s.log.With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("plan", plan.ID),
	)

	chargeErr := s.gateway.Charge(ctx, Charge{
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Method:    req.PaymentMethod,
		Card:      req.Card,
	})

	// The charge outcome must be recorded even if the client has gone away.
	persistCtx := context.WithoutCancel(ctx)

	if chargeErr != nil {
		var declined *DeclinedError
		reason := "Erro ao processar pagamento"
		if errors.As(chargeErr, &declined) {
			reason = declined.Reason
		}
		payment, err = s.payments.Update(persistCtx, payment.ID, store.Fields{
			"status":         PaymentFailed,
			"failure_reason": reason,
		})
		if err != nil {
			return nil, err
		}
		s.metrics.PaymentsTotal.WithLabelValues(string(PaymentFailed)).Inc()

		if declined == nil {
			log.Error("charge failed", zap.Error(chargeErr))
			return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, chargeErr)
		}
		log.Info("payment declined", zap.String("reason", reason))
		customer, err := s.customers.Get(persistCtx, req.CustomerID)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{
			Success:  false,
			Message:  "Pagamento não aprovado. Verifique os dados do cartão e tente novamente.",
			Payment:  payment,
			Customer: customer,
		}, nil
	}

	now := s.now().UTC()
	payment, err = s.payments.Update(persistCtx, payment.ID, store.Fields{
		"status":  PaymentSucceeded,
		"paid_at": now,
	})
	if err != nil {
		return nil, err
	}

	var info *BillingInfo
	if req.PaymentMethod == MethodCreditCard {
		info = req.Card.summary()
	}
	customer, err := s.customers.Update(persistCtx, req.CustomerID, store.Fields{
		"subscription_status":    SubscriptionActive,
		"current_plan":           plan.ID,
		"subscription_starts_at": now,
		"next_billing_date":      req.BillingCycle.next(now),
		"billing_info":           info,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentsTotal.WithLabelValues(string(PaymentSucceeded)).Inc()
	log.Info("subscription activated", zap.String("cycle", string(req.BillingCycle)))
	return &CheckoutResult{Success: true, Payment: payment, Customer: customer}, nil
}

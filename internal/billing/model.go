package billing

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

const TrialPeriod = 7 * 24 * time.Hour

type BillingInfo struct {
	CardBrand      string `json:"card_brand"`
	CardLastDigits string `json:"card_last_digits"`
	CardHolderName string `json:"card_holder_name"`
}

type Customer struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID      string `json:"user_id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Document    string `json:"document"`
	CompanyName string `json:"company_name"`

	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt          *time.Time         `json:"trial_ends_at"`
	CurrentPlan          string             `json:"current_plan"`
	SubscriptionStartsAt *time.Time         `json:"subscription_starts_at"`
	NextBillingDate      *time.Time         `json:"next_billing_date"`
	BillingInfo          *BillingInfo       `json:"billing_info"`
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
)

type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
)

func (c Cycle) Valid() bool { return c == CycleMonthly || c == CycleYearly }

// next returns the billing date one cycle after t.
func (c Cycle) next(t time.Time) time.Time {
	if c == CycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

type Method string

const (
	MethodCreditCard Method = "credit_card"
	MethodPix        Method = "pix"
	MethodBoleto     Method = "boleto"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCreditCard, MethodPix, MethodBoleto:
		return true
	}
	return false
}

type Payment struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CustomerID    uuid.UUID     `json:"customer_id"`
	Amount        int64         `json:"amount"` // cents
	PlanType      string        `json:"plan_type"`
	BillingCycle  Cycle         `json:"billing_cycle"`
	PaymentMethod Method        `json:"payment_method"`
	Status        PaymentStatus `json:"status"`
	PaidAt        *time.Time    `json:"paid_at"`
	FailureReason string        `json:"failure_reason"`
}

// Plan prices are whole BRL.
type Plan struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	MonthlyPrice int64    `json:"monthly_price"`
	YearlyPrice  int64    `json:"yearly_price"`
	Features     []string `json:"features"`
}

// AmountCents is the charge for one cycle.
func (p Plan) AmountCents(c Cycle) int64 {
	if c == CycleYearly {
		return p.YearlyPrice * 100
	}
	return p.MonthlyPrice * 100
}

var plans = []Plan{
	{
		ID:           "basico",
		Name:         "Básico",
		Description:  "Perfeito para consultórios pequenos",
		MonthlyPrice: 49,
		YearlyPrice:  490,
		Features: []string{
			"Até 50 consultas/mês",
			"Anamnese com IA",
			"Sugestões básicas de diagnóstico",
			"Histórico de consultas",
			"Suporte por email",
		},
	},
	{
		ID:           "profissional",
		Name:         "Profissional",
		Description:  "Ideal para médicos em crescimento",
		MonthlyPrice: 99,
		YearlyPrice:  990,
		Features: []string{
			"Consultas ilimitadas",
			"Anamnese avançada com IA",
			"Análise completa de diagnóstico",
			"Sugestão de exames",
			"Dashboard analytics",
			"Exportação de relatórios",
			"Suporte prioritário",
		},
	},
	{
		ID:           "enterprise",
		Name:         "Enterprise",
		Description:  "Para clínicas e redes de atendimento",
		MonthlyPrice: 199,
		YearlyPrice:  1990,
		Features: []string{
			"Tudo do Profissional",
			"Múltiplos médicos",
			"Integrações personalizadas",
			"Gerente de conta dedicado",
		},
	},
}

func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

func FindPlan(id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

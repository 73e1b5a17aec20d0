package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/platform/httpio"
)

func newTestRouter(t *testing.T) (*chi.Mux, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(env.svc, zap.NewNop()))
	return r, env
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Plans(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/plans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "basico", got[0].ID)
	assert.Equal(t, int64(490), got[0].YearlyPrice)
}

func TestHandler_CustomerAndCheckout(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/customers", `{"full_name":"Carla","email":"carla@clinica.com.br"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))

	rec = do(t, r, http.MethodGet, "/customers/"+c.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := `{"customer_id":"` + c.ID.String() + `","plan":"basico","billing_cycle":"monthly",
		"payment_method":"credit_card","card":{"number":"4111111111111111","holder_name":"CARLA","expiry":"12/30","cvc":"123"}}`
	rec = do(t, r, http.MethodPost, "/checkout", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res CheckoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, SubscriptionActive, res.Customer.SubscriptionStatus)
	assert.NotContains(t, rec.Body.String(), "4111111111111111")

	rec = do(t, r, http.MethodGet, "/payments/"+res.Payment.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Errors(t *testing.T) {
	r, env := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/customers", `{"full_name":"Carla"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody httpio.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "validation_failed", errBody.Code)

	rec = do(t, r, http.MethodGet, "/customers/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/payments/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c := newCustomer(t, env.svc)
	env.gw.err = assert.AnError
	rec = do(t, r, http.MethodPost, "/checkout", `{"customer_id":"`+c.ID.String()+`","plan":"basico","billing_cycle":"monthly","payment_method":"pix"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

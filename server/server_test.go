package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/bookshop/pkg/config"
	"github.com/example/bookshop/pkg/errs"
	"github.com/example/bookshop/pkg/mailer"
	"github.com/example/bookshop/pkg/models"
	"github.com/example/bookshop/pkg/payments"
	"github.com/example/bookshop/pkg/repository"
	"github.com/example/bookshop/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const (
	testWebhookSecret = "whsec_test_handler_secret"
	testAdminPassword = "test-admin-password"
)

// --- fakes -----------------------------------------------------------------

type fakePayments struct {
	mu          sync.Mutex
	createCalls int
	failCreate  bool
	session     *stripe.CheckoutSession
}

func (f *fakePayments) CreateCheckoutSession(_ context.Context, items []payments.CartItem, _ string) (string, error) {
	if err := payments.ValidateCart(items); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.failCreate {
		return "", &errs.UpstreamError{Cause: errors.New("processor rejected request")}
	}
	return "cs_test_fake", nil
}

func (f *fakePayments) GetSession(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	if f.session == nil {
		return nil, &errs.UpstreamError{Cause: errors.New("no such session")}
	}
	return f.session, nil
}

func (f *fakePayments) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, testWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, &errs.AuthenticationError{Cause: err}
	}
	return event, nil
}

type fakeOrderStore struct {
	mu         sync.Mutex
	orders     []models.Order
	failInsert bool
}

func (f *fakeOrderStore) Insert(_ context.Context, order *models.Order) error {
	if f.failInsert {
		return &errs.PersistenceError{Op: "insert order", Cause: errors.New("store unavailable")}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	order.CreatedAt = time.Now()
	f.orders = append(f.orders, *order)
	return nil
}

func (f *fakeOrderStore) List(_ context.Context, _ repository.OrderFilter) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Order{}, f.orders...), nil
}

func (f *fakeOrderStore) ExportCSV(ctx context.Context, w io.Writer) error {
	orders, _ := f.List(ctx, repository.OrderFilter{})
	return repository.WriteOrdersCSV(w, orders)
}

func (f *fakeOrderStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeNewsletterStore struct {
	mu     sync.Mutex
	emails map[string]bool
}

func (f *fakeNewsletterStore) Insert(_ context.Context, signup *models.NewsletterSignup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emails == nil {
		f.emails = make(map[string]bool)
	}
	if f.emails[signup.Email] {
		return &errs.ConflictError{Msg: "email already subscribed"}
	}
	f.emails[signup.Email] = true
	return nil
}

func (f *fakeNewsletterStore) List(_ context.Context) ([]models.NewsletterSignup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NewsletterSignup
	for email := range f.emails {
		out = append(out, models.NewsletterSignup{Email: email})
	}
	return out, nil
}

func (f *fakeNewsletterStore) ExportCSV(_ context.Context, w io.Writer) error {
	_, err := w.Write([]byte("email,ip,date\n"))
	return err
}

type fakeSessionCache struct {
	mu    sync.Mutex
	views map[string]*repository.SessionView
}

func (f *fakeSessionCache) CacheSession(_ context.Context, id string, view *repository.SessionView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.views == nil {
		f.views = make(map[string]*repository.SessionView)
	}
	f.views[id] = view
	return nil
}

func (f *fakeSessionCache) GetSessionCache(_ context.Context, id string) (*repository.SessionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if view, ok := f.views[id]; ok {
		return view, nil
	}
	return nil, errors.New("cache miss")
}

type fakeAuditStore struct {
	audits      chan *repository.WebhookAudit
	deadLetters chan *repository.DeadLetter
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{
		audits:      make(chan *repository.WebhookAudit, 8),
		deadLetters: make(chan *repository.DeadLetter, 8),
	}
}

func (f *fakeAuditStore) RecordWebhookAudit(_ context.Context, audit *repository.WebhookAudit) error {
	f.audits <- audit
	return nil
}

func (f *fakeAuditStore) RecordDeadLetter(_ context.Context, dl *repository.DeadLetter) error {
	f.deadLetters <- dl
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (f *fakeNotifier) Send(msg interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeNotifier) messages() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}{}, f.msgs...)
}

// --- harness ---------------------------------------------------------------

type testEnv struct {
	router     http.Handler
	payments   *fakePayments
	orders     *fakeOrderStore
	newsletter *fakeNewsletterStore
	cache      *fakeSessionCache
	audit      *fakeAuditStore
	notifier   *fakeNotifier
}

func newTestEnv() *testEnv {
	env := &testEnv{
		payments:   &fakePayments{},
		orders:     &fakeOrderStore{},
		newsletter: &fakeNewsletterStore{},
		cache:      &fakeSessionCache{},
		audit:      newFakeAuditStore(),
		notifier:   &fakeNotifier{},
	}

	cfg := &config.Config{}
	cfg.Admin.Password = testAdminPassword

	srv := server.NewServer(cfg, zap.NewNop(), env.payments, env.orders,
		env.newsletter, env.cache, env.audit, env.notifier)
	srv.SetupRoutes()
	env.router = srv.Router()
	return env
}

func (env *testEnv) do(method, path string, body []byte, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func signPayload(payload []byte, secret string) ([]byte, string) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func completedPayload(sessionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_%s",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": %q,
				"amount_total": 2599,
				"customer_details": {
					"name": "Jane Reader",
					"email": "jane@example.com",
					"address": {"line1": "1 Main St", "city": "Portland", "state": "OR", "postal_code": "97201", "country": "US"}
				},
				"metadata": {"items": "[{\"title\":\"Book A\",\"quantity\":2}]"}
			}
		}
	}`, sessionID, stripe.APIVersion, sessionID))
}

func waitAudit(t *testing.T, ch chan *repository.WebhookAudit) *repository.WebhookAudit {
	t.Helper()
	select {
	case audit := <-ch:
		return audit
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook audit record")
		return nil
	}
}

// --- webhook pipeline ------------------------------------------------------

func TestWebhookMissingSignature(t *testing.T) {
	env := newTestEnv()

	rr := env.do(http.MethodPost, "/webhook", completedPayload("cs_nosig"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, env.orders.count())
}

func TestWebhookInvalidSignature(t *testing.T) {
	env := newTestEnv()

	rr := env.do(http.MethodPost, "/webhook", completedPayload("cs_badsig"), func(req *http.Request) {
		req.Header.Set("Stripe-Signature", "t=1234567890,v1=deadbeef")
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, env.orders.count())
	assert.Empty(t, env.notifier.messages())
}

func TestWebhookWrongSecret(t *testing.T) {
	env := newTestEnv()

	body, header := signPayload(completedPayload("cs_wrong"), "whsec_not_ours")
	rr := env.do(http.MethodPost, "/webhook", body, func(req *http.Request) {
		req.Header.Set("Stripe-Signature", header)
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, env.orders.count())
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	env := newTestEnv()

	body, header := signPayload(completedPayload("cs_ok"), testWebhookSecret)
	rr := env.do(http.MethodPost, "/webhook", body, func(req *http.Request) {
		req.Header.Set("Stripe-Signature", header)
	})

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, env.orders.count())

	order := env.orders.orders[0]
	assert.Equal(t, "Jane Reader", order.Name)
	assert.Equal(t, "jane@example.com", order.Email)
	assert.Equal(t, "Book A x2", order.BookTitle)
	assert.Equal(t, int64(2599), order.Amount)
	require.NotNil(t, order.ShippingCity)
	assert.Equal(t, "Portland", *order.ShippingCity)

	msgs := env.notifier.messages()
	require.Len(t, msgs, 2)
	confirmation, ok := msgs[0].(*mailer.SendCustomerConfirmation)
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", confirmation.Email)
	alert, ok := msgs[1].(*mailer.SendAdminAlert)
	require.True(t, ok)
	assert.Equal(t, "cs_ok", alert.SessionID)

	audit := waitAudit(t, env.audit.audits)
	assert.Equal(t, "processed", audit.Outcome)
	assert.Equal(t, "cs_ok", audit.SessionID)
}

func TestWebhookIgnoredEventType(t *testing.T) {
	env := newTestEnv()

	payload := []byte(fmt.Sprintf(`{"id":"evt_sub","api_version":%q,"type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`, stripe.APIVersion))
	body, header := signPayload(payload, testWebhookSecret)
	rr := env.do(http.MethodPost, "/webhook", body, func(req *http.Request) {
		req.Header.Set("Stripe-Signature", header)
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, env.orders.count())
	assert.Empty(t, env.notifier.messages())

	audit := waitAudit(t, env.audit.audits)
	assert.Equal(t, "ignored", audit.Outcome)
}

func TestWebhookInsertFailureStillAcknowledges(t *testing.T) {
	env := newTestEnv()
	env.orders.failInsert = true

	body, header := signPayload(completedPayload("cs_lost"), testWebhookSecret)
	rr := env.do(http.MethodPost, "/webhook", body, func(req *http.Request) {
		req.Header.Set("Stripe-Signature", header)
	})

	// The processor must see success so it does not redeliver.
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, env.orders.count())

	select {
	case dl := <-env.audit.deadLetters:
		assert.Equal(t, "cs_lost", dl.SessionID)
		assert.Contains(t, dl.Reason, "store unavailable")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dead letter")
	}

	// Mail still goes out; the trade-off loses the row, not the email.
	assert.Len(t, env.notifier.messages(), 2)

	audit := waitAudit(t, env.audit.audits)
	assert.Equal(t, "insert_failed", audit.Outcome)
}

func TestWebhookTruncatedMetadataStillProcessed(t *testing.T) {
	env := newTestEnv()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_trunc",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_trunc", "amount_total": 1500, "metadata": {"items": "[{\"title\":"}}}
	}`, stripe.APIVersion))
	body, header := signPayload(payload, testWebhookSecret)
	rr := env.do(http.MethodPost, "/webhook", body, func(req *http.Request) {
		req.Header.Set("Stripe-Signature", header)
	})

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, env.orders.count())
	assert.Equal(t, "", env.orders.orders[0].BookTitle)
	assert.Equal(t, int64(1500), env.orders.orders[0].Amount)
}

// --- checkout session creation ---------------------------------------------

func TestCreateCheckoutSession(t *testing.T) {
	env := newTestEnv()

	body := []byte(`{"items":[{"title":"Book A","unit_amount":1299,"quantity":2}],"customerEmail":"jane@example.com"}`)
	rr := env.do(http.MethodPost, "/create-checkout-session", body)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "cs_test_fake", resp["id"])

	// Session creation never touches the order store.
	assert.Equal(t, 0, env.orders.count())
}

func TestCreateCheckoutSessionLegacyFieldNames(t *testing.T) {
	env := newTestEnv()

	body := []byte(`{"items":[{"name":"Book A","amount":1299,"quantity":1}]}`)
	rr := env.do(http.MethodPost, "/create-checkout-session", body)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCreateCheckoutSessionValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing items", `{}`},
		{"empty items", `{"items":[]}`},
		{"zero quantity", `{"items":[{"title":"Book","unit_amount":100,"quantity":0}]}`},
		{"negative amount", `{"items":[{"title":"Book","unit_amount":-5,"quantity":1}]}`},
		{"empty title", `{"items":[{"title":"","unit_amount":100,"quantity":1}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			rr := env.do(http.MethodPost, "/create-checkout-session", []byte(tc.body))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			// Rejected before any processor call.
			assert.Equal(t, 0, env.payments.createCalls)
		})
	}
}

func TestCreateCheckoutSessionUpstreamFailure(t *testing.T) {
	env := newTestEnv()
	env.payments.failCreate = true

	body := []byte(`{"items":[{"title":"Book A","unit_amount":1299,"quantity":1}]}`)
	rr := env.do(http.MethodPost, "/create-checkout-session", body)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	// Generic message; processor internals stay server-side.
	assert.Contains(t, rr.Body.String(), "Checkout failed")
	assert.NotContains(t, rr.Body.String(), "processor rejected request")
}

// --- session read path -----------------------------------------------------

func TestGetSessionCacheMiss(t *testing.T) {
	env := newTestEnv()
	env.payments.session = &stripe.CheckoutSession{
		AmountTotal: 2599,
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Email: "jane@example.com",
		},
		LineItems: &stripe.LineItemList{
			Data: []*stripe.LineItem{{Description: "Book A", Quantity: 2}},
		},
	}

	rr := env.do(http.MethodGet, "/api/session/cs_123", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var view repository.SessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "jane@example.com", view.CustomerEmail)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Book A", view.Items[0].Title)

	// Second request is served from cache even if the processor disappears.
	env.payments.session = nil
	rr = env.do(http.MethodGet, "/api/session/cs_123", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetSessionUpstreamFailure(t *testing.T) {
	env := newTestEnv()

	rr := env.do(http.MethodGet, "/api/session/cs_missing", nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "Could not fetch session")
}

// --- admin routes ----------------------------------------------------------

func asAdmin(req *http.Request) {
	req.SetBasicAuth("admin", testAdminPassword)
}

func TestOrdersRequireAuth(t *testing.T) {
	env := newTestEnv()

	rr := env.do(http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodGet, "/api/orders/export", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv()
	env.orders.orders = []models.Order{
		{ID: "o1", Name: "Jane", Email: "jane@example.com", BookTitle: "Book A x1", Amount: 1299},
	}

	rr := env.do(http.MethodGet, "/api/orders?email=jane", nil, asAdmin)

	require.Equal(t, http.StatusOK, rr.Code)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "jane@example.com", orders[0].Email)
}

func TestExportOrders(t *testing.T) {
	env := newTestEnv()
	env.orders.orders = []models.Order{
		{Name: "Jane", Email: "jane@example.com", BookTitle: "Book A x1", Amount: 1299, CreatedAt: time.Now()},
	}

	rr := env.do(http.MethodGet, "/api/orders/export", nil, asAdmin)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "name,email,bookTitle,amount,date", lines[0])
}

// --- newsletter ------------------------------------------------------------

func TestNewsletterSignup(t *testing.T) {
	env := newTestEnv()

	rr := env.do(http.MethodPost, "/api/newsletter", []byte(`{"email":"reader@example.com"}`))
	assert.Equal(t, http.StatusOK, rr.Code)

	// Duplicate is rejected, not overwritten.
	rr = env.do(http.MethodPost, "/api/newsletter", []byte(`{"email":"reader@example.com"}`))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestNewsletterInvalidEmail(t *testing.T) {
	env := newTestEnv()

	for _, body := range []string{`{"email":"not-an-email"}`, `{"email":""}`, `{}`} {
		rr := env.do(http.MethodPost, "/api/newsletter", []byte(body))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	}
	// Never reached the store.
	assert.Empty(t, env.newsletter.emails)
}

func TestNewsletterListRequiresAuth(t *testing.T) {
	env := newTestEnv()

	// Both the listing path and its alias are admin-only.
	for _, path := range []string{"/api/newsletter", "/api/newsletter/emails"} {
		rr := env.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)

		rr = env.do(http.MethodGet, path, nil, asAdmin)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

// --- contact & shipping ----------------------------------------------------

func TestContactRelay(t *testing.T) {
	env := newTestEnv()

	body := []byte(`{"name":"Jane","email":"jane@example.com","message":"Where is my book?"}`)
	rr := env.do(http.MethodPost, "/api/contact", body)

	require.Equal(t, http.StatusOK, rr.Code)
	msgs := env.notifier.messages()
	require.Len(t, msgs, 1)
	relay, ok := msgs[0].(*mailer.SendContactRelay)
	require.True(t, ok)
	assert.Equal(t, "Where is my book?", relay.Message)
}

func TestContactRequiresEmailAndMessage(t *testing.T) {
	env := newTestEnv()

	rr := env.do(http.MethodPost, "/api/contact", []byte(`{"name":"Jane","email":"jane@example.com"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, env.notifier.messages())
}

func TestCalculateShipping(t *testing.T) {
	env := newTestEnv()

	cases := []struct {
		body string
		want int64
	}{
		{`{"address":{"country":"CA","state":"ON"}}`, 2499},
		{`{"address":{"country":"US","state":"HI"}}`, 1499},
		{`{"address":{"country":"US","state":"AK"}}`, 1499},
		{`{"address":{"country":"US","state":"FL"}}`, 599},
	}
	for _, tc := range cases {
		rr := env.do(http.MethodPost, "/calculate-shipping", []byte(tc.body))
		require.Equal(t, http.StatusOK, rr.Code, tc.body)

		var resp map[string]int64
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, tc.want, resp["cost"], tc.body)
	}
}

func TestCalculateShippingMissingFields(t *testing.T) {
	env := newTestEnv()

	for _, body := range []string{
		`{"address":{"state":"FL"}}`,
		`{"address":{"country":"US"}}`,
		`{}`,
	} {
		rr := env.do(http.MethodPost, "/calculate-shipping", []byte(body))
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

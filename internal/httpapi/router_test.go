package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/pkg/health"
	"reviewpoints-platform/services/account"
	"reviewpoints-platform/services/ledger"
	"reviewpoints-platform/services/pricing"
	"reviewpoints-platform/services/review"
	"reviewpoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type memoryTokenStore struct {
	sessions map[string]*account.SessionData
}

func (m *memoryTokenStore) Get(_ context.Context, token string) (*account.SessionData, error) {
	return m.sessions[token], nil
}

func (m *memoryTokenStore) Set(_ context.Context, token string, data *account.SessionData, _ time.Duration) error {
	m.sessions[token] = data
	return nil
}

func (m *memoryTokenStore) Delete(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

type apiFixture struct {
	router   http.Handler
	accounts *account.Service
	ledger   *ledger.Service

	operatorID string
	authorID   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.Account{},
		&account.ImpersonationGrant{},
		&ledger.Balance{},
		&ledger.Transaction{},
		&pricing.ContentPricing{},
		&review.ReviewSubmission{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{AppEnv: "test"}
	cfg.Workflow.ReasonMinLength = 10
	cfg.Workflow.AwaitingPostSLA = 72 * time.Hour
	cfg.Session.TTL = time.Hour

	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	prc := pricing.NewService(pricing.ServiceParams{DB: db, Node: node})
	rev := review.NewService(review.ServiceParams{
		DB: db, Node: node, Config: cfg, Ledger: led, Pricing: prc,
	})
	accounts := account.NewService(account.ServiceParams{
		DB:     db,
		Node:   node,
		Config: cfg,
		Tokens: &memoryTokenStore{sessions: map[string]*account.SessionData{}},
		Ledger: led,
	})

	handler := NewHandler(HandlerParams{
		Accounts: accounts,
		Pricing:  prc,
		Ledger:   led,
		Review:   rev,
	})
	router := NewRouter(RouterParams{
		Config:   cfg,
		Handler:  handler,
		Health:   health.ProvideHealth(health.HealthParams{DB: db}),
		Accounts: accounts,
	})

	ctx := context.Background()
	operator, err := accounts.CreateAccount(ctx, account.CreateParams{Name: "Ops", Role: account.RoleOperator})
	require.NoError(t, err)
	admin, err := accounts.CreateAccount(ctx, account.CreateParams{Name: "Admin", Role: account.RoleAdmin, ParentID: operator.ID})
	require.NoError(t, err)
	dist, err := accounts.CreateAccount(ctx, account.CreateParams{Name: "Dist", Role: account.RoleDistributor, ParentID: admin.ID})
	require.NoError(t, err)
	author, err := accounts.CreateAccount(ctx, account.CreateParams{Name: "Writer", Role: account.RoleAuthor, ParentID: dist.ID})
	require.NoError(t, err)

	_, err = prc.UpsertPrice(ctx, pricing.UpsertParams{ContentType: "blog", UnitPrice: 50, ActorID: operator.ID})
	require.NoError(t, err)

	return &apiFixture{
		router:     router,
		accounts:   accounts,
		ledger:     led,
		operatorID: operator.ID,
		authorID:   author.ID,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) session(t *testing.T, accountID string) string {
	t.Helper()

	w := f.do(t, http.MethodPost, "/v1/sessions", "", gin.H{"account_id": accountID})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestRequestsWithoutSessionAreRejected(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/submissions", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

func TestSubmissionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	operatorToken := f.session(t, f.operatorID)
	authorToken := f.session(t, f.authorID)

	// fund the author
	w := f.do(t, http.MethodPost, "/v1/ledger/adjustments", operatorToken, gin.H{
		"account_id":  f.authorID,
		"delta":       100,
		"description": "welcome credit",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/v1/submissions", authorToken, gin.H{
		"place_id":     "place-1",
		"content_type": "blog",
		"payload":      gin.H{"title": "Great spot"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var sub review.ReviewSubmission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	require.Equal(t, review.PointDraft, sub.PointStatus)

	w = f.do(t, http.MethodPost, "/v1/submissions/"+sub.ID+"/submit", authorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/submissions/"+sub.ID+"/approve", operatorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// the monitor reports the review live; no task queue here so it applies inline
	found := true
	w = f.do(t, http.MethodPost, "/v1/monitor/observations", operatorToken, gin.H{
		"submission_id": sub.ID,
		"found":         &found,
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/v1/submissions/"+sub.ID, authorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	require.Equal(t, review.ReviewPosted, sub.ReviewStatus)

	w = f.do(t, http.MethodGet, "/v1/accounts/"+f.authorID+"/balance", authorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var balance ledger.Balance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	require.Equal(t, int64(50), balance.AvailablePoints)
	require.Equal(t, int64(50), balance.TotalSpent)

	w = f.do(t, http.MethodGet, "/v1/accounts/"+f.authorID+"/verify", operatorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result ledger.VerifyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.True(t, result.Valid)
}

func TestDomainErrorsMapToHTTPStatuses(t *testing.T) {
	f := newAPIFixture(t)
	authorToken := f.session(t, f.authorID)

	// no funding: the reservation must fail as unprocessable
	w := f.do(t, http.MethodPost, "/v1/submissions", authorToken, gin.H{
		"place_id":     "place-1",
		"content_type": "blog",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var sub review.ReviewSubmission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))

	w = f.do(t, http.MethodPost, "/v1/submissions/"+sub.ID+"/submit", authorToken, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// approving a draft is an invalid transition, same status family
	w = f.do(t, http.MethodPost, "/v1/submissions/"+sub.ID+"/approve", authorToken, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// unknown submission
	w = f.do(t, http.MethodGet, "/v1/submissions/does-not-exist", authorToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

package account

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/services/ledger"
	"reviewpoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type memoryTokenStore struct {
	sessions map[string]*SessionData
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{sessions: map[string]*SessionData{}}
}

func (m *memoryTokenStore) Get(_ context.Context, token string) (*SessionData, error) {
	return m.sessions[token], nil
}

func (m *memoryTokenStore) Set(_ context.Context, token string, data *SessionData, _ time.Duration) error {
	m.sessions[token] = data
	return nil
}

func (m *memoryTokenStore) Delete(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

type accountFixture struct {
	svc    *Service
	ledger *ledger.Service
	tokens *memoryTokenStore
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Account{},
		&ImpersonationGrant{},
		&ledger.Balance{},
		&ledger.Transaction{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Workflow.ReasonMinLength = 10
	cfg.Session.TTL = time.Hour

	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	tokens := newMemoryTokenStore()
	svc := NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Config: cfg,
		Tokens: tokens,
		Ledger: led,
	})

	return &accountFixture{svc: svc, ledger: led, tokens: tokens}
}

func (f *accountFixture) account(t *testing.T, name string, role Role, parentID string) *Account {
	t.Helper()
	acc, err := f.svc.CreateAccount(context.Background(), CreateParams{
		Name:     name,
		Role:     role,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return acc
}

func TestCreateAccountEnforcesHierarchy(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	operator := f.account(t, "Platform Ops", RoleOperator, "")
	admin := f.account(t, "Country Admin", RoleAdmin, operator.ID)
	dist := f.account(t, "North Distributor", RoleDistributor, admin.ID)

	// an author cannot hang directly off an admin
	_, err := f.svc.CreateAccount(ctx, CreateParams{Name: "Writer", Role: RoleAuthor, ParentID: admin.ID})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusValidationFailed, base.Code)

	author := f.account(t, "Writer", RoleAuthor, dist.ID)
	require.Equal(t, StatusActive, author.Status)

	// operators never have parents
	_, err = f.svc.CreateAccount(ctx, CreateParams{Name: "Second Ops", Role: RoleOperator, ParentID: operator.ID})
	require.Error(t, err)

	children, err := f.svc.ListChildren(ctx, dist.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, author.ID, children[0].ID)
}

func TestCreateAccountOpensBalance(t *testing.T) {
	f := newAccountFixture(t)

	operator := f.account(t, "Platform Ops", RoleOperator, "")

	balance, err := f.ledger.GetBalance(context.Background(), operator.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.AvailablePoints)
}

func TestSessionRoundTrip(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	operator := f.account(t, "Platform Ops", RoleOperator, "")

	token, err := f.svc.IssueSession(ctx, operator.ID)
	require.NoError(t, err)

	identity, err := f.svc.ResolveToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, operator.ID, identity.Account.ID)
	require.Equal(t, RoleOperator, identity.Account.Role)
	require.False(t, identity.Impersonated)
}

func TestResolveTokenRejectsUnknownAndInactive(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	_, err := f.svc.ResolveToken(ctx, "")
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusUnauthorized, base.Code)

	_, err = f.svc.ResolveToken(ctx, "nope")
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusUnauthorized, base.Code)

	operator := f.account(t, "Platform Ops", RoleOperator, "")
	token, err := f.svc.IssueSession(ctx, operator.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateStatus(ctx, operator.ID, StatusSuspended))

	_, err = f.svc.ResolveToken(ctx, token)
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusForbidden, base.Code)
}

func TestImpersonationLifecycle(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	operator := f.account(t, "Platform Ops", RoleOperator, "")
	admin := f.account(t, "Country Admin", RoleAdmin, operator.ID)
	dist := f.account(t, "North Distributor", RoleDistributor, admin.ID)

	// reason must carry substance
	_, _, err := f.svc.Impersonate(ctx, ImpersonateParams{
		GrantorID: admin.ID,
		TargetID:  dist.ID,
		Reason:    "debug",
	})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusValidationFailed, base.Code)

	// distributors cannot impersonate at all
	_, _, err = f.svc.Impersonate(ctx, ImpersonateParams{
		GrantorID: dist.ID,
		TargetID:  admin.ID,
		Reason:    "investigating missing points",
	})
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusForbidden, base.Code)

	token, grant, err := f.svc.Impersonate(ctx, ImpersonateParams{
		GrantorID: admin.ID,
		TargetID:  dist.ID,
		Reason:    "investigating missing points",
		Scopes:    []string{"ledger:read"},
	})
	require.NoError(t, err)
	require.Equal(t, admin.ID, grant.GrantorID)

	identity, err := f.svc.ResolveToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, dist.ID, identity.Account.ID)
	require.True(t, identity.Impersonated)
	require.Equal(t, grant.ID, identity.GrantID)
	require.Equal(t, admin.ID, identity.GrantorID)

	require.NoError(t, f.svc.EndImpersonation(ctx, token))

	_, err = f.svc.ResolveToken(ctx, token)
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusUnauthorized, base.Code)

	grants, err := f.svc.ListGrants(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.NotNil(t, grants[0].EndedAt)
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	f := newAccountFixture(t)
	operator := f.account(t, "Platform Ops", RoleOperator, "")

	err := f.svc.UpdateStatus(context.Background(), operator.ID, Status("frozen"))
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusValidationFailed, base.Code)
}

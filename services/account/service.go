package account

import (
	"context"
	"time"

	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/pkg/db/option"
	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/pkg/repository"
	"reviewpoints-platform/pkg/sequence"
	"reviewpoints-platform/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config
	seq    sequence.Generator
	tokens TokenStore
	ledger *ledger.Service

	accounts repository.Repository[Account]
	grants   repository.Repository[ImpersonationGrant]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Seq    sequence.Generator `optional:"true"`
	Tokens TokenStore
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		config: p.Config,
		seq:    p.Seq,
		tokens: p.Tokens,
		ledger: p.Ledger,

		accounts: repository.ProvideStore[Account](p.DB),
		grants:   repository.ProvideStore[ImpersonationGrant](p.DB),
	}
}

type CreateParams struct {
	Name     string
	Role     Role
	ParentID string
}

// CreateAccount inserts the account and its zeroed balance in one unit of
// work. Every account owns exactly one balance row from birth.
func (s *Service) CreateAccount(ctx context.Context, p CreateParams) (*Account, error) {
	if p.Name == "" {
		return nil, errutil.ValidationFailed("account name is required", nil)
	}
	if !p.Role.Valid() {
		return nil, errutil.ValidationFailed("unknown role", nil)
	}

	var parentID *string
	if p.Role == RoleOperator {
		if p.ParentID != "" {
			return nil, errutil.ValidationFailed("operator accounts cannot have a parent", nil)
		}
	} else {
		if p.ParentID == "" {
			return nil, errutil.ValidationFailed("parent account is required for this role", nil)
		}
		parent, err := s.accounts.FindOne(ctx, &Account{ID: p.ParentID})
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, errutil.NotFound("parent account not found", nil)
		}
		if !p.Role.AcceptsParent(parent.Role) {
			return nil, errutil.ValidationFailed("parent role does not match the tier hierarchy", nil)
		}
		parentID = &parent.ID
	}

	id := s.node.Generate().String()

	code := ""
	if s.seq != nil {
		var err error
		code, err = s.seq.NextAccountCode(ctx, string(p.Role))
		if err != nil {
			zap.L().Warn("failed to generate account code, falling back to id", zap.Error(err))
			code = ""
		}
	}
	if code == "" {
		code = "ACC-" + id
	}

	acc := &Account{
		ID:        id,
		Code:      code,
		Slug:      slug.Make(p.Name),
		Name:      p.Name,
		Role:      p.Role,
		ParentID:  parentID,
		Status:    StatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.WithTrx(tx).Create(ctx, acc); err != nil {
			return err
		}
		return s.ledger.CreateBalance(ctx, tx, acc.ID)
	}); err != nil {
		return nil, err
	}

	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	acc, err := s.accounts.FindOne(ctx, &Account{ID: id})
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, errutil.NotFound("account not found", nil)
	}
	return acc, nil
}

func (s *Service) ListChildren(ctx context.Context, parentID string) ([]*Account, error) {
	return s.accounts.Find(ctx, &Account{ParentID: &parentID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

// UpdateStatus suspends or reactivates an account. Suspended accounts keep
// their balance but cannot act until reactivated.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) error {
	switch status {
	case StatusActive, StatusInactive, StatusSuspended:
	default:
		return errutil.ValidationFailed("unknown account status", nil)
	}

	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	return s.accounts.Update(ctx, acc.ID, map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	})
}

// Identity is the resolved actor for one request. When Impersonated is true
// the audit trail records GrantorID as the real operator behind the call.
type Identity struct {
	Account      *Account
	Impersonated bool
	GrantID      string
	GrantorID    string
}

// ResolveToken maps an opaque session token to an identity. The role always
// comes from the account row, never from anything the client sent.
func (s *Service) ResolveToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, errutil.Unauthorized("missing session token", nil)
	}

	data, err := s.tokens.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errutil.Unauthorized("session not found or expired", nil)
	}

	acc, err := s.GetAccount(ctx, data.AccountID)
	if err != nil {
		return nil, err
	}
	if acc.Status != StatusActive {
		return nil, errutil.Forbidden("account is not active", nil)
	}

	return &Identity{
		Account:      acc,
		Impersonated: data.GrantID != "",
		GrantID:      data.GrantID,
		GrantorID:    data.GrantorID,
	}, nil
}

// IssueSession is the integration point for the external identity provider:
// after it authenticates a user, it exchanges the account id for a token here.
func (s *Service) IssueSession(ctx context.Context, accountID string) (string, error) {
	acc, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acc.Status != StatusActive {
		return "", errutil.Forbidden("account is not active", nil)
	}

	token, err := NewToken()
	if err != nil {
		return "", err
	}

	if err := s.tokens.Set(ctx, token, &SessionData{AccountID: acc.ID}, s.config.Session.TTL); err != nil {
		return "", err
	}

	return token, nil
}

type ImpersonateParams struct {
	GrantorID string
	TargetID  string
	Reason    string
	Scopes    []string
}

// Impersonate records a grant and returns a scoped token for the target
// identity. The client never swaps identities on its own.
func (s *Service) Impersonate(ctx context.Context, p ImpersonateParams) (string, *ImpersonationGrant, error) {
	if len(p.Reason) < s.config.Workflow.ReasonMinLength {
		return "", nil, errutil.ValidationFailed("impersonation reason is too short", nil)
	}

	grantor, err := s.GetAccount(ctx, p.GrantorID)
	if err != nil {
		return "", nil, err
	}
	if grantor.Role != RoleOperator && grantor.Role != RoleAdmin {
		return "", nil, errutil.Forbidden("only operators and admins can impersonate", nil)
	}

	target, err := s.GetAccount(ctx, p.TargetID)
	if err != nil {
		return "", nil, err
	}
	if target.ID == grantor.ID {
		return "", nil, errutil.ValidationFailed("cannot impersonate yourself", nil)
	}

	grant := &ImpersonationGrant{
		ID:        s.node.Generate().String(),
		GrantorID: grantor.ID,
		TargetID:  target.ID,
		Reason:    p.Reason,
		Scopes:    p.Scopes,
		CreatedAt: time.Now(),
	}

	if err := s.grants.Create(ctx, grant); err != nil {
		return "", nil, err
	}

	token, err := NewToken()
	if err != nil {
		return "", nil, err
	}

	if err := s.tokens.Set(ctx, token, &SessionData{
		AccountID: target.ID,
		GrantID:   grant.ID,
		GrantorID: grantor.ID,
	}, s.config.Session.TTL); err != nil {
		return "", nil, err
	}

	zap.L().Info("impersonation grant issued",
		zap.String("grant_id", grant.ID),
		zap.String("grantor_id", grantor.ID),
		zap.String("target_id", target.ID),
	)

	return token, grant, nil
}

// EndImpersonation closes the grant behind a token and revokes the token.
func (s *Service) EndImpersonation(ctx context.Context, token string) error {
	data, err := s.tokens.Get(ctx, token)
	if err != nil {
		return err
	}
	if data == nil || data.GrantID == "" {
		return errutil.BadRequest("token does not carry an impersonation grant", nil)
	}

	now := time.Now()
	if err := s.grants.Update(ctx, data.GrantID, map[string]any{
		"ended_at": now,
	}); err != nil {
		return err
	}

	return s.tokens.Delete(ctx, token)
}

// ListGrants returns the audit trail of impersonations performed by one
// grantor, newest first.
func (s *Service) ListGrants(ctx context.Context, grantorID string) ([]*ImpersonationGrant, error) {
	return s.grants.Find(ctx, &ImpersonationGrant{GrantorID: grantorID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

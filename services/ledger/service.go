package ledger

import (
	"context"
	"sort"
	"time"

	"reviewpoints-platform/pkg/db/option"
	"reviewpoints-platform/pkg/db/pagination"
	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	balances     repository.Repository[Balance]
	transactions repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		balances:     repository.ProvideStore[Balance](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

// EntryParams describes one ledger mutation tied to a workflow reference.
type EntryParams struct {
	AccountID   string
	Amount      int64
	ActorID     string
	ReferenceID string
	Description string
}

// balanceDelta is the effect of one entry on the four balance columns.
type balanceDelta struct {
	available int64
	pending   int64
	earned    int64
	spent     int64
}

func deltasFor(t TransactionType, amount int64) balanceDelta {
	switch t {
	case TypeAdminAdd, TypeEarn:
		return balanceDelta{available: amount, earned: amount}
	case TypeAdminSubtract:
		return balanceDelta{available: amount} // amount is negative
	case TypeSpendReserve:
		return balanceDelta{available: -amount, pending: amount}
	case TypeSpendFinalize:
		return balanceDelta{pending: -amount, spent: amount}
	case TypeRefund:
		return balanceDelta{pending: -amount, available: amount}
	case TypeTransfer:
		return balanceDelta{available: amount}
	default:
		return balanceDelta{}
	}
}

// CreateBalance inserts the zeroed balance row for a new account. Called by
// the account service inside its own unit of work.
func (s *Service) CreateBalance(ctx context.Context, tx *gorm.DB, accountID string) error {
	return s.balances.WithTrx(tx).Create(ctx, &Balance{
		ID:        s.node.Generate().String(),
		AccountID: accountID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
}

// inTx reuses the caller's transaction when one is passed (workflow
// transitions span submission and ledger writes) or opens its own.
func (s *Service) inTx(tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.Transaction(fn)
}

// Reserve holds amount points for a pending submission. Fails with
// InsufficientBalanceError when available points do not cover it.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, p EntryParams) (*Transaction, error) {
	if p.Amount <= 0 {
		return nil, errutil.ValidationFailed("reserve amount must be positive", nil)
	}
	return s.entry(ctx, tx, TypeSpendReserve, p)
}

// Finalize converts an outstanding reservation into a permanent spend.
func (s *Service) Finalize(ctx context.Context, tx *gorm.DB, p EntryParams) (*Transaction, error) {
	if p.Amount <= 0 {
		return nil, errutil.ValidationFailed("finalize amount must be positive", nil)
	}
	return s.entry(ctx, tx, TypeSpendFinalize, p)
}

// Release refunds an outstanding reservation back to available points.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, p EntryParams) (*Transaction, error) {
	if p.Amount <= 0 {
		return nil, errutil.ValidationFailed("release amount must be positive", nil)
	}
	return s.entry(ctx, tx, TypeRefund, p)
}

func (s *Service) entry(ctx context.Context, tx *gorm.DB, entryType TransactionType, p EntryParams) (*Transaction, error) {
	var entry *Transaction
	if err := s.inTx(tx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.apply(ctx, tx, entryType, p)
		return err
	}); err != nil {
		return nil, err
	}
	return entry, nil
}

type AdjustParams struct {
	AccountID   string
	Delta       int64
	Description string
	ActorID     string
}

// AdminAdjust credits or debits available points directly. A negative delta
// beyond the available balance fails and leaves the row untouched.
func (s *Service) AdminAdjust(ctx context.Context, p AdjustParams) (*Transaction, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if p.Delta == 0 {
		return nil, errutil.ValidationFailed("adjustment delta must be non-zero", nil)
	}

	entryType := TypeAdminAdd
	if p.Delta < 0 {
		entryType = TypeAdminSubtract
	}

	var entry *Transaction
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.apply(ctx, tx, entryType, EntryParams{
			AccountID:   p.AccountID,
			Amount:      p.Delta,
			ActorID:     p.ActorID,
			Description: p.Description,
		})
		return err
	}); err != nil {
		return nil, err
	}

	return entry, nil
}

type EarnParams struct {
	AccountID   string
	Amount      int64
	Description string
	ActorID     string
	ReferenceID string
}

// Earn credits points to an account, e.g. a campaign payout to an author.
func (s *Service) Earn(ctx context.Context, p EarnParams) (*Transaction, error) {
	if p.Amount <= 0 {
		return nil, errutil.ValidationFailed("earn amount must be positive", nil)
	}

	var entry *Transaction
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.apply(ctx, tx, TypeEarn, EntryParams{
			AccountID:   p.AccountID,
			Amount:      p.Amount,
			ActorID:     p.ActorID,
			ReferenceID: p.ReferenceID,
			Description: p.Description,
		})
		return err
	}); err != nil {
		return nil, err
	}

	return entry, nil
}

type TransferParams struct {
	FromAccountID string
	ToAccountID   string
	Amount        int64
	Description   string
	ActorID       string
}

// Transfer moves available points between two accounts, e.g. a distributor
// funding an advertiser. Both legs commit together.
func (s *Service) Transfer(ctx context.Context, p TransferParams) error {
	if p.Amount <= 0 {
		return errutil.ValidationFailed("transfer amount must be positive", nil)
	}
	if p.FromAccountID == p.ToAccountID {
		return errutil.ValidationFailed("transfer requires two distinct accounts", nil)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		// lock in a stable order so two opposing transfers cannot deadlock
		ids := []string{p.FromAccountID, p.ToAccountID}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := s.lockedBalance(ctx, tx, id); err != nil {
				return err
			}
		}

		if _, err := s.apply(ctx, tx, TypeTransfer, EntryParams{
			AccountID:   p.FromAccountID,
			Amount:      -p.Amount,
			ActorID:     p.ActorID,
			ReferenceID: p.ToAccountID,
			Description: p.Description,
		}); err != nil {
			return err
		}

		_, err := s.apply(ctx, tx, TypeTransfer, EntryParams{
			AccountID:   p.ToAccountID,
			Amount:      p.Amount,
			ActorID:     p.ActorID,
			ReferenceID: p.FromAccountID,
			Description: p.Description,
		})
		return err
	})
}

// apply is the single write path for the ledger. It must run inside a gorm
// transaction: the balance row is locked, mutated through a guarded update,
// and exactly one chained Transaction row is appended.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, entryType TransactionType, p EntryParams) (*Transaction, error) {
	balance, err := s.lockedBalance(ctx, tx, p.AccountID)
	if err != nil {
		return nil, err
	}

	d := deltasFor(entryType, p.Amount)

	if d.available < 0 && balance.AvailablePoints+d.available < 0 {
		return nil, InsufficientBalanceError{
			AccountID: p.AccountID,
			Requested: -d.available,
			Available: balance.AvailablePoints,
		}
	}
	if d.pending < 0 && balance.PendingPoints+d.pending < 0 {
		return nil, ReservationMismatchError{
			AccountID: p.AccountID,
			Requested: -d.pending,
			Pending:   balance.PendingPoints,
		}
	}

	// guarded update keeps the non-negative invariant even if the lock is
	// ever weakened (sqlite has no row locks)
	res := tx.WithContext(ctx).Model(&Balance{}).
		Where("account_id = ?", p.AccountID).
		Where("available_points + ? >= 0 AND pending_points + ? >= 0", d.available, d.pending).
		Updates(map[string]any{
			"available_points": gorm.Expr("available_points + ?", d.available),
			"pending_points":   gorm.Expr("pending_points + ?", d.pending),
			"total_earned":     gorm.Expr("total_earned + ?", d.earned),
			"total_spent":      gorm.Expr("total_spent + ?", d.spent),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, InsufficientBalanceError{
			AccountID: p.AccountID,
			Requested: p.Amount,
			Available: balance.AvailablePoints,
		}
	}

	// id breaks ties within one timestamp tick so the chain head is the same
	// row the replay in VerifyChain ends on
	previousHash := "GENESIS"
	lastEntry, err := s.transactions.WithTrx(tx).FindOne(ctx, &Transaction{AccountID: p.AccountID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.OrderByID("desc"),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, err
	}
	if lastEntry != nil {
		previousHash = lastEntry.Hash
	}

	code, err := GenerateTransactionCode()
	if err != nil {
		zap.L().Error("failed to generate transaction code", zap.Error(err))
		return nil, err
	}

	entry := NewTransaction(TransactionParams{
		TransactionID: s.node.Generate().String(),
		Code:          code,
		AccountID:     p.AccountID,
		Type:          entryType,
		Amount:        p.Amount,
		BalanceBefore: balance.AvailablePoints,
		BalanceAfter:  balance.AvailablePoints + d.available,
		Description:   p.Description,
		ActorID:       p.ActorID,
		ReferenceID:   p.ReferenceID,
		PreviousHash:  previousHash,
	})
	entry.Hash = entry.GenerateHash()

	if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *Service) lockedBalance(ctx context.Context, tx *gorm.DB, accountID string) (*Balance, error) {
	balance, err := s.balances.WithTrx(tx).FindOne(ctx, &Balance{AccountID: accountID},
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, errutil.NotFound("balance not found", nil)
	}
	return balance, nil
}

// GetBalance returns the stored balance snapshot. It reads the row as-is; use
// VerifyChain to reconcile it against the transaction log.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	balance, err := s.balances.FindOne(ctx, &Balance{AccountID: accountID})
	if err != nil {
		zap.L().Error("failed to query balance",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return nil, err
	}
	if balance == nil {
		return nil, errutil.NotFound("balance not found", nil)
	}

	return balance, nil
}

type ListQuery struct {
	AccountID  string
	Type       TransactionType
	Pagination pagination.Pagination
}

// ListTransactions pages through an account's log, newest first. The cursor
// encodes (created_at, id) so a restarted scan never skips or repeats rows.
func (s *Service) ListTransactions(ctx context.Context, q ListQuery) ([]*Transaction, *pagination.PageInfo, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	limit := q.Pagination.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.OrderByID("desc"),
		option.WithLimit(limit + 1),
	}

	if q.Pagination.Cursor != "" {
		cursor, err := pagination.DecodeCursor(q.Pagination.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, func(tx *gorm.DB) *gorm.DB {
			return tx.Where("created_at < ? OR (created_at = ? AND id < ?)",
				createdAt, createdAt, cursor.ID)
		})
	}

	entries, err := s.transactions.Find(ctx, &Transaction{
		AccountID: q.AccountID,
		Type:      q.Type,
	}, opts...)
	if err != nil {
		zap.L().Error("failed to list transactions",
			zap.String("account_id", q.AccountID),
			zap.Error(err),
		)
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, int32(limit), func(t *Transaction) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        t.ID,
		})
		return cursor
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, pageInfo, nil
}

// VerifyResult reports whether an account's log replays to its stored balance
// and the hash chain is intact.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Reason  string `json:"reason,omitempty"`
}

// VerifyChain replays the account's transactions from zero and compares the
// result with the stored balance row.
func (s *Service) VerifyChain(ctx context.Context, accountID string) (*VerifyResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	entries, err := s.transactions.Find(ctx, &Transaction{AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.OrderByID("asc"),
	)
	if err != nil {
		return nil, err
	}

	balance, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var replayed Balance
	lastHash := "GENESIS"
	for _, entry := range entries {
		if entry.PreviousHash != lastHash {
			return &VerifyResult{Valid: false, Entries: len(entries), Reason: "broken hash chain at " + entry.ID}, nil
		}
		if entry.Hash != entry.GenerateHash() {
			return &VerifyResult{Valid: false, Entries: len(entries), Reason: "hash mismatch at " + entry.ID}, nil
		}
		if !entry.Type.Valid() {
			return &VerifyResult{Valid: false, Entries: len(entries), Reason: "unknown entry type at " + entry.ID}, nil
		}

		d := deltasFor(entry.Type, entry.Amount)
		replayed.AvailablePoints += d.available
		replayed.PendingPoints += d.pending
		replayed.TotalEarned += d.earned
		replayed.TotalSpent += d.spent

		if replayed.AvailablePoints < 0 || replayed.PendingPoints < 0 {
			return &VerifyResult{Valid: false, Entries: len(entries), Reason: "negative balance during replay at " + entry.ID}, nil
		}

		lastHash = entry.Hash
	}

	if replayed.AvailablePoints != balance.AvailablePoints ||
		replayed.PendingPoints != balance.PendingPoints ||
		replayed.TotalEarned != balance.TotalEarned ||
		replayed.TotalSpent != balance.TotalSpent {
		return &VerifyResult{Valid: false, Entries: len(entries), Reason: "replayed balance does not match stored row"}, nil
	}

	return &VerifyResult{Valid: true, Entries: len(entries)}, nil
}

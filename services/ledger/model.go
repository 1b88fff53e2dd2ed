package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TransactionType tells the replayer how an entry moves the four balance
// columns. The set is closed; anything else fails verification.
type TransactionType string

const (
	TypeAdminAdd      TransactionType = "admin_add"
	TypeAdminSubtract TransactionType = "admin_subtract"
	TypeSpendReserve  TransactionType = "spend_reserve"
	TypeSpendFinalize TransactionType = "spend_finalize"
	TypeRefund        TransactionType = "refund"
	TypeEarn          TransactionType = "earn"
	TypeTransfer      TransactionType = "transfer"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeAdminAdd, TypeAdminSubtract, TypeSpendReserve, TypeSpendFinalize, TypeRefund, TypeEarn, TypeTransfer:
		return true
	default:
		return false
	}
}

// Balance is the single monetary truth for an account. Every mutation flows
// through the service and appends exactly one Transaction.
type Balance struct {
	ID              string    `gorm:"column:id;primaryKey"`
	AccountID       string    `gorm:"column:account_id;uniqueIndex;not null"`
	AvailablePoints int64     `gorm:"column:available_points;not null;default:0"`
	PendingPoints   int64     `gorm:"column:pending_points;not null;default:0"`
	TotalEarned     int64     `gorm:"column:total_earned;not null;default:0"`
	TotalSpent      int64     `gorm:"column:total_spent;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// Transaction is append-only. Rows are never updated or deleted; corrections
// are new entries. The hash chain is per account.
type Transaction struct {
	ID            string          `gorm:"column:id;primaryKey"`
	Code          string          `gorm:"column:code;uniqueIndex"`
	AccountID     string          `gorm:"column:account_id;index;not null"`
	Type          TransactionType `gorm:"column:type;type:varchar(20);not null"`
	Amount        int64           `gorm:"column:amount;not null"`
	BalanceBefore int64           `gorm:"column:balance_before;not null"`
	BalanceAfter  int64           `gorm:"column:balance_after;not null"`
	Description   string          `gorm:"column:description;type:text"`
	ActorID       string          `gorm:"column:actor_id;index"`
	ReferenceID   string          `gorm:"column:reference_id;index"`
	PreviousHash  string          `gorm:"column:previous_hash"`
	Hash          string          `gorm:"column:hash"`
	CreatedAt     time.Time       `gorm:"column:created_at;index"`
}

type TransactionParams struct {
	TransactionID string
	Code          string
	AccountID     string
	Type          TransactionType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Description   string
	ActorID       string
	ReferenceID   string
	PreviousHash  string
}

func NewTransaction(p TransactionParams) *Transaction {
	return &Transaction{
		ID:            p.TransactionID,
		Code:          p.Code,
		AccountID:     p.AccountID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: p.BalanceBefore,
		BalanceAfter:  p.BalanceAfter,
		Description:   p.Description,
		ActorID:       p.ActorID,
		ReferenceID:   p.ReferenceID,
		PreviousHash:  p.PreviousHash,
		// microsecond precision survives a postgres timestamptz round-trip,
		// so the hash recomputed from the stored row matches
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (m *Transaction) HashFields() map[string]string {
	return map[string]string{
		"id":             m.ID,
		"account_id":     m.AccountID,
		"type":           string(m.Type),
		"amount":         fmt.Sprintf("%d", m.Amount),
		"balance_before": fmt.Sprintf("%d", m.BalanceBefore),
		"balance_after":  fmt.Sprintf("%d", m.BalanceAfter),
		"actor_id":       m.ActorID,
		"reference_id":   m.ReferenceID,
		"description":    m.Description,
		"created_at":     m.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

func (m *Transaction) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}

// GenerateTransactionCode builds a short operator-facing code. Uniqueness is
// enforced by the column index, the random part only keeps collisions rare.
func GenerateTransactionCode() (string, error) {
	datePart := time.Now().UTC().Format("20060102")

	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("TXN-%s-%s", datePart, randomPart), nil
}

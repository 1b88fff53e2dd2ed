package account

import (
	"time"

	"github.com/lib/pq"
)

// Role is the fixed tier hierarchy. Parents scope what their children can see;
// authors are the only accounts that submit reviews.
type Role string

const (
	RoleOperator    Role = "operator"
	RoleAdmin       Role = "admin"
	RoleDistributor Role = "distributor"
	RoleAdvertiser  Role = "advertiser"
	RoleAuthor      Role = "author"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleAdmin, RoleDistributor, RoleAdvertiser, RoleAuthor:
		return true
	default:
		return false
	}
}

// allowedParents encodes the tier tree: operator at the root, advertiser and
// author both hang off the distributor tier.
var allowedParents = map[Role][]Role{
	RoleOperator:    nil,
	RoleAdmin:       {RoleOperator},
	RoleDistributor: {RoleAdmin},
	RoleAdvertiser:  {RoleDistributor},
	RoleAuthor:      {RoleDistributor, RoleAdvertiser},
}

func (r Role) AcceptsParent(parent Role) bool {
	for _, allowed := range allowedParents[r] {
		if allowed == parent {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

type Account struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Code      string    `gorm:"column:code;uniqueIndex"`
	Slug      string    `gorm:"column:slug;index"`
	Name      string    `gorm:"column:name;not null"`
	Role      Role      `gorm:"column:role;type:varchar(20);not null;index"`
	ParentID  *string   `gorm:"column:parent_id;index"`
	Status    Status    `gorm:"column:status;type:varchar(20);default:'active'"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// ImpersonationGrant is the server-side record of one admin acting as another
// account. The grant, not the client, is the source of truth; ending it
// restores the original identity.
type ImpersonationGrant struct {
	ID        string         `gorm:"column:id;primaryKey"`
	GrantorID string         `gorm:"column:grantor_id;index;not null"`
	TargetID  string         `gorm:"column:target_id;index;not null"`
	Reason    string         `gorm:"column:reason;type:text;not null"`
	Scopes    pq.StringArray `gorm:"column:scopes;type:text[]"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	EndedAt   *time.Time     `gorm:"column:ended_at"`
}

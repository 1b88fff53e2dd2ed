package pricing

import (
	"context"
	"time"

	"reviewpoints-platform/pkg/db/option"
	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	prices repository.Repository[ContentPricing]
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

		prices: repository.ProvideStore[ContentPricing](p.DB),
	}
}

// GetPrice returns the current unit price for a content type. Callers snapshot
// the value; the catalog is never consulted again for an existing submission.
func (s *Service) GetPrice(ctx context.Context, contentType string) (int64, error) {
	if contentType == "" {
		return 0, errutil.ValidationFailed("content type is required", nil)
	}

	price, err := s.prices.FindOne(ctx, &ContentPricing{ContentType: contentType, IsActive: true})
	if err != nil {
		zap.L().Error("failed to query content pricing",
			zap.String("content_type", contentType),
			zap.Error(err),
		)
		return 0, err
	}
	if price == nil {
		return 0, errutil.NotFound("no active price for content type", nil)
	}

	return price.UnitPrice, nil
}

type UpsertParams struct {
	ContentType string
	UnitPrice   int64
	ActorID     string
}

// UpsertPrice creates or replaces the price for a content type.
func (s *Service) UpsertPrice(ctx context.Context, p UpsertParams) (*ContentPricing, error) {
	if p.ContentType == "" {
		return nil, errutil.ValidationFailed("content type is required", nil)
	}
	if p.UnitPrice <= 0 {
		return nil, errutil.ValidationFailed("unit price must be positive", nil)
	}

	var price *ContentPricing
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.prices.WithTrx(tx).FindOne(ctx, &ContentPricing{ContentType: p.ContentType},
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}

		if existing == nil {
			price = &ContentPricing{
				ID:          s.node.Generate().String(),
				ContentType: p.ContentType,
				UnitPrice:   p.UnitPrice,
				IsActive:    true,
				UpdatedBy:   p.ActorID,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}
			return s.prices.WithTrx(tx).Create(ctx, price)
		}

		if err := s.prices.WithTrx(tx).Update(ctx, existing.ID, map[string]any{
			"unit_price": p.UnitPrice,
			"is_active":  true,
			"updated_by": p.ActorID,
			"updated_at": time.Now(),
		}); err != nil {
			return err
		}

		existing.UnitPrice = p.UnitPrice
		existing.IsActive = true
		existing.UpdatedBy = p.ActorID
		price = existing
		return nil
	}); err != nil {
		return nil, err
	}

	return price, nil
}

// Deactivate hides a content type from submissions without touching history.
func (s *Service) Deactivate(ctx context.Context, contentType, actorID string) error {
	existing, err := s.prices.FindOne(ctx, &ContentPricing{ContentType: contentType})
	if err != nil {
		return err
	}
	if existing == nil {
		return errutil.NotFound("content type not found", nil)
	}

	return s.prices.Update(ctx, existing.ID, map[string]any{
		"is_active":  false,
		"updated_by": actorID,
		"updated_at": time.Now(),
	})
}

func (s *Service) ListPricing(ctx context.Context) ([]*ContentPricing, error) {
	return s.prices.Find(ctx, &ContentPricing{},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "content_type",
			OrderBy: "asc",
			Allow:   map[string]bool{"content_type": true},
		}),
	)
}

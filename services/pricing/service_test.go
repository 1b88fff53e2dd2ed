package pricing

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &ContentPricing{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.UpsertPrice(ctx, UpsertParams{ContentType: "blog", UnitPrice: 50, ActorID: "op-1"})
	require.NoError(t, err)
	require.Equal(t, int64(50), created.UnitPrice)
	require.True(t, created.IsActive)

	updated, err := svc.UpsertPrice(ctx, UpsertParams{ContentType: "blog", UnitPrice: 75, ActorID: "op-2"})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, int64(75), updated.UnitPrice)
	require.Equal(t, "op-2", updated.UpdatedBy)

	price, err := svc.GetPrice(ctx, "blog")
	require.NoError(t, err)
	require.Equal(t, int64(75), price)
}

func TestUpsertRejectsNonPositivePrice(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.UpsertPrice(context.Background(), UpsertParams{ContentType: "blog", UnitPrice: 0, ActorID: "op-1"})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusValidationFailed, base.Code)
}

func TestGetPriceUnknownContentType(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetPrice(context.Background(), "podcast")
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)
}

func TestDeactivateHidesFromGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertPrice(ctx, UpsertParams{ContentType: "blog", UnitPrice: 50, ActorID: "op-1"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "blog", "op-1"))

	_, err = svc.GetPrice(ctx, "blog")
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)

	// history stays queryable
	all, err := svc.ListPricing(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.False(t, all[0].IsActive)

	// reactivation is a plain upsert
	reactivated, err := svc.UpsertPrice(ctx, UpsertParams{ContentType: "blog", UnitPrice: 60, ActorID: "op-1"})
	require.NoError(t, err)
	require.True(t, reactivated.IsActive)
}

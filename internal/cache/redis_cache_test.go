package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stationpos/backend/internal/domain"
)

func TestNoopProgramCacheAlwaysMisses(t *testing.T) {
	var c ProgramCache = NoopProgramCache{}
	require.NoError(t, c.Set(context.Background(), domain.LoyaltyProgram{OrganizationID: "org-a"}, time.Minute))

	_, ok, err := c.Get(context.Background(), "org-a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Delete(context.Background(), "org-a"))
}

func TestRedisProgramCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("STATIONPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STATIONPOS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisProgramCache(client)
	org := "org-cache-test"
	t.Cleanup(func() { _ = c.Delete(ctx, org) })

	_, ok, err := c.Get(ctx, org)
	require.NoError(t, err)
	assert.False(t, ok)

	program := domain.LoyaltyProgram{
		OrganizationID:       org,
		Name:                 "Station Rewards",
		PointsPerCurrency:    decimal.NewFromInt(1),
		CurrencyPerPoint:     decimal.RequireFromString("0.01"),
		MinPurchaseForPoints: decimal.NewFromInt(10),
		IsActive:             true,
	}
	require.NoError(t, c.Set(ctx, program, time.Minute))

	got, ok, err := c.Get(ctx, org)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, program.CurrencyPerPoint.Equal(got.CurrencyPerPoint))
	assert.True(t, got.IsActive)

	require.NoError(t, c.Delete(ctx, org))
	_, ok, err = c.Get(ctx, org)
	require.NoError(t, err)
	assert.False(t, ok)
}

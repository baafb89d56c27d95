package addresses

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/otcsettle/internal/audit"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/db/dbtest"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/outbox"
)

type fixture struct {
	svc    Service
	client *db.Client
	outbox *outbox.Repository
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	client := dbtest.New(t)
	outboxRepo := outbox.NewRepository(client.DB())
	rec, err := audit.NewRecorder(outbox.NewService(outboxRepo, nil), nil)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(client.DB()), client, rec, nil, opts...)
	require.NoError(t, err)
	return fixture{svc: svc, client: client, outbox: outboxRepo}
}

func (f fixture) add(t *testing.T, scope, address string, confirmed bool) *models.PayoutAddress {
	t.Helper()
	row, err := f.svc.Add(context.Background(), AddInput{
		ScopeID:      scope,
		Address:      address,
		CreatedBy:    "creator",
		PreConfirmed: confirmed,
	})
	require.NoError(t, err)
	return row
}

func TestAddValidatesInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Add(context.Background(), AddInput{ScopeID: "s1", Address: "  ", CreatedBy: "u1"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestConfirmRequiresSecondParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.add(t, "s1", "TXaddr1", false)
	require.Equal(t, enums.AddressPendingConfirmation, row.ConfirmationState)

	_, err := f.svc.Confirm(ctx, row.ID, "creator")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeSelfConfirmation))

	got, err := f.svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, enums.AddressPendingConfirmation, got.ConfirmationState)

	confirmed, err := f.svc.Confirm(ctx, row.ID, "reviewer")
	require.NoError(t, err)
	require.Equal(t, enums.AddressConfirmed, confirmed.ConfirmationState)
	require.Equal(t, "reviewer", *confirmed.ConfirmedBy)

	again, err := f.svc.Confirm(ctx, row.ID, "someone-else")
	require.NoError(t, err)
	require.Equal(t, "reviewer", *again.ConfirmedBy)

	events, err := f.outbox.ListByAggregate(ctx, row.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestUpdateAddressRearmsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := "qr://abc"
	row, err := f.svc.Add(ctx, AddInput{ScopeID: "s1", Address: "old", CreatedBy: "creator", VisualEncodingRef: &ref})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, row.ID, "reviewer")
	require.NoError(t, err)

	label := "main"
	same := "old"
	updated, err := f.svc.UpdateAddress(ctx, UpdateInput{ID: row.ID, Address: &same, Label: &label, ActorID: "admin"})
	require.NoError(t, err)
	require.Equal(t, enums.AddressConfirmed, updated.ConfirmationState)
	require.Equal(t, "main", updated.Label)

	next := "new"
	updated, err = f.svc.UpdateAddress(ctx, UpdateInput{ID: row.ID, Address: &next, ActorID: "admin"})
	require.NoError(t, err)
	require.Equal(t, enums.AddressPendingConfirmation, updated.ConfirmationState)

	got, err := f.svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.Address)
	require.Equal(t, enums.AddressPendingConfirmation, got.ConfirmationState)
	require.Nil(t, got.ConfirmedBy)
	require.Nil(t, got.ConfirmedAt)
	require.Nil(t, got.VisualEncodingRef)

	_, err = f.svc.SelectActive(ctx, "s1", enums.AddressStrategyDefault)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSetDefaultKeepsOnePerScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "s1", "A", true)
	b := f.add(t, "s1", "B", true)
	other := f.add(t, "s2", "C", true)

	_, err := f.svc.SetDefault(ctx, a.ID, "admin")
	require.NoError(t, err)
	_, err = f.svc.SetDefault(ctx, other.ID, "admin")
	require.NoError(t, err)
	_, err = f.svc.SetDefault(ctx, b.ID, "admin")
	require.NoError(t, err)

	rows, err := f.svc.List(ctx, "s1")
	require.NoError(t, err)
	defaults := 0
	for _, r := range rows {
		if r.IsDefault {
			defaults++
			require.Equal(t, b.ID, r.ID)
		}
	}
	require.Equal(t, 1, defaults)

	picked, err := f.svc.SelectActive(ctx, "s1", enums.AddressStrategyDefault)
	require.NoError(t, err)
	require.Equal(t, b.ID, picked.ID)

	stillDefault, err := f.svc.Get(ctx, other.ID)
	require.NoError(t, err)
	require.True(t, stillDefault.IsDefault)
}

func TestRemoveDeactivatesAndClearsDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "s1", "A", true)
	b := f.add(t, "s1", "B", true)
	_, err := f.svc.SetDefault(ctx, b.ID, "admin")
	require.NoError(t, err)

	removed, err := f.svc.Remove(ctx, b.ID, "admin")
	require.NoError(t, err)
	require.False(t, removed.IsActive)
	require.False(t, removed.IsDefault)

	picked, err := f.svc.SelectActive(ctx, "s1", enums.AddressStrategyDefault)
	require.NoError(t, err)
	require.Equal(t, a.ID, picked.ID)

	_, err = f.svc.SetDefault(ctx, b.ID, "admin")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))

	_, err = f.svc.SetActive(ctx, b.ID, true, "admin")
	require.NoError(t, err)
	_, err = f.svc.Remove(ctx, "missing", "admin")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSelectActiveRoundRobinPrefersLeastUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	busy := f.add(t, "s1", "busy", true)
	light := f.add(t, "s1", "light", true)
	pending := f.add(t, "s1", "pending", false)

	require.NoError(t, f.client.DB().Model(&models.PayoutAddress{}).Where("id = ?", busy.ID).Update("usage_count", 5).Error)
	require.NoError(t, f.client.DB().Model(&models.PayoutAddress{}).Where("id = ?", light.ID).Update("usage_count", 3).Error)

	picked, err := f.svc.SelectActive(ctx, "s1", enums.AddressStrategyRoundRobin)
	require.NoError(t, err)
	require.Equal(t, light.ID, picked.ID)
	require.NotEqual(t, pending.ID, picked.ID)

	at := time.Now().UTC()
	require.NoError(t, f.svc.RecordUsage(ctx, nil, light.ID, at))
	require.NoError(t, f.svc.RecordUsage(ctx, nil, light.ID, at))
	require.NoError(t, f.svc.RecordUsage(ctx, nil, light.ID, at))

	got, err := f.svc.Get(ctx, light.ID)
	require.NoError(t, err)
	require.Equal(t, 6, got.UsageCount)
	require.NotNil(t, got.LastUsedAt)

	picked, err = f.svc.SelectActive(ctx, "s1", enums.AddressStrategyRoundRobin)
	require.NoError(t, err)
	require.Equal(t, busy.ID, picked.ID)

	err = f.svc.RecordUsage(ctx, nil, "missing", at)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSelectActiveRandomUsesInjectedSource(t *testing.T) {
	f := newFixture(t, WithRandom(func(n int) int { return n - 1 }))
	ctx := context.Background()
	f.add(t, "s1", "first", true)
	last := f.add(t, "s1", "second", true)

	picked, err := f.svc.SelectActive(ctx, "s1", enums.AddressStrategyRandom)
	require.NoError(t, err)
	require.Equal(t, last.ID, picked.ID)

	_, err = f.svc.SelectActive(ctx, "s1", enums.AddressStrategy("fastest"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.SelectActive(ctx, "empty-scope", enums.AddressStrategyRandom)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSelectorsTable(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	pool := []models.PayoutAddress{
		{ID: "a", UsageCount: 2, LastUsedAt: &newer},
		{ID: "b", UsageCount: 2, LastUsedAt: &older},
		{ID: "c", UsageCount: 2},
	}
	require.Equal(t, "c", selectLeastUsed(pool, nil).ID)
	require.Equal(t, "b", selectLeastUsed(pool[:2], nil).ID)
	require.Equal(t, "a", selectDefault(pool, nil).ID)

	pool[1].IsDefault = true
	require.Equal(t, "b", selectDefault(pool, nil).ID)

	for strategy := range selectors {
		require.True(t, strategy.IsValid())
	}
}

package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/otcsettle/internal/addresses"
	"github.com/angelmondragon/otcsettle/internal/agents"
	"github.com/angelmondragon/otcsettle/internal/audit"
	"github.com/angelmondragon/otcsettle/internal/confirmation"
	"github.com/angelmondragon/otcsettle/internal/settlement"
	"github.com/angelmondragon/otcsettle/internal/transactions"
	"github.com/angelmondragon/otcsettle/pkg/db/dbtest"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/outbox"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc       Service
	ledger    transactions.Service
	addresses addresses.Service
	agents    agents.Service
	settings  *settlement.ScopeSettingsRepository
	outbox    *outbox.Repository
	clock     *manualClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.New(t)
	outboxRepo := outbox.NewRepository(client.DB())
	rec, err := audit.NewRecorder(outbox.NewService(outboxRepo, nil), nil)
	require.NoError(t, err)

	pool, err := addresses.NewService(addresses.NewRepository(client.DB()), client, rec, nil)
	require.NoError(t, err)
	ledger, err := transactions.NewService(transactions.ServiceParams{
		Repo:      transactions.NewRepository(client.DB()),
		Tx:        client,
		Addresses: pool,
		Audit:     rec,
	})
	require.NoError(t, err)
	agentPool, err := agents.NewService(agents.NewRepository(client.DB()), client, rec, nil, nil)
	require.NoError(t, err)

	clock := &manualClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	guard, err := confirmation.NewGuard(confirmation.GuardParams{
		Store: confirmation.NewMemoryStore(),
		TTL:   time.Minute,
		Clock: clock.now,
	})
	require.NoError(t, err)

	settings := settlement.NewScopeSettingsRepository(client.DB())
	svc, err := NewService(Params{
		Guard:        guard,
		Transactions: ledger,
		Addresses:    pool,
		Agents:       agentPool,
		Settings:     settings,
		Tx:           client,
		Audit:        rec,
	})
	require.NoError(t, err)
	return fixture{
		svc:       svc,
		ledger:    ledger,
		addresses: pool,
		agents:    agentPool,
		settings:  settings,
		outbox:    outboxRepo,
		clock:     clock,
	}
}

func (f fixture) transaction(t *testing.T, scope string) *models.Transaction {
	t.Helper()
	ctx := context.Background()
	_, err := f.addresses.Add(ctx, addresses.AddInput{ScopeID: scope, Address: "TRX-" + scope, CreatedBy: "admin", PreConfirmed: true})
	require.NoError(t, err)
	row, err := f.ledger.Create(ctx, transactions.CreateInput{
		Quote: &settlement.Quote{
			FiatAmount:    decimal.NewFromInt(1000),
			BaseRate:      decimal.RequireFromString("7.20"),
			Markup:        decimal.RequireFromString("0.05"),
			FinalRate:     decimal.RequireFromString("7.25"),
			PayoutAmount:  decimal.RequireFromString("137.9310"),
			RateSourceID:  "okx",
			PaymentMethod: "all",
		},
		ScopeID:     &scope,
		RequesterID: "user-1",
	})
	require.NoError(t, err)
	return row
}

func TestCancelTransactionNeedsRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.transaction(t, "s1")

	res, err := f.svc.CancelTransaction(ctx, "admin", row.ID, "duplicate")
	require.NoError(t, err)
	require.True(t, res.Pending())
	require.Nil(t, res.Value)

	got, err := f.ledger.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusPending, got.Status)

	res, err = f.svc.CancelTransaction(ctx, "admin", row.ID, "duplicate")
	require.NoError(t, err)
	require.True(t, res.Outcome.Executed())
	cancelled := res.Value.(*models.Transaction)
	require.Equal(t, enums.TransactionStatusCancelled, cancelled.Status)

	// the slot is consumed; a third call only arms again
	res, err = f.svc.CancelTransaction(ctx, "admin", row.ID, "duplicate")
	require.NoError(t, err)
	require.True(t, res.Pending())
}

func TestDifferentCommandReplacesArmedOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.transaction(t, "s1")
	second := f.transaction(t, "s1")

	res, err := f.svc.CancelTransaction(ctx, "admin", first.ID, "")
	require.NoError(t, err)
	require.True(t, res.Pending())

	res, err = f.svc.CancelTransaction(ctx, "admin", second.ID, "")
	require.NoError(t, err)
	require.True(t, res.Pending())
	require.True(t, res.Outcome.Replaced)

	res, err = f.svc.CancelTransaction(ctx, "admin", second.ID, "")
	require.NoError(t, err)
	require.True(t, res.Outcome.Executed())

	got, err := f.ledger.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusPending, got.Status)
}

func TestExpiredConfirmationRearms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.transaction(t, "s1")

	_, err := f.svc.CancelTransaction(ctx, "admin", row.ID, "")
	require.NoError(t, err)
	f.clock.advance(2 * time.Minute)

	res, err := f.svc.CancelTransaction(ctx, "admin", row.ID, "")
	require.NoError(t, err)
	require.True(t, res.Pending())
	require.True(t, res.Outcome.Expired)

	res, err = f.svc.CancelTransaction(ctx, "admin", row.ID, "")
	require.NoError(t, err)
	require.True(t, res.Outcome.Executed())
}

func TestAbortClearsArmedCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.transaction(t, "s1")

	_, err := f.svc.CancelTransaction(ctx, "admin", row.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Abort(ctx, "admin"))

	res, err := f.svc.CancelTransaction(ctx, "admin", row.ID, "")
	require.NoError(t, err)
	require.True(t, res.Pending())
	require.False(t, res.Outcome.Replaced)
}

func TestConfirmAllPaidGuarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ConfirmAllPaid(ctx, "admin", nil, false)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	a := f.transaction(t, "s1")
	b := f.transaction(t, "s1")
	for _, row := range []*models.Transaction{a, b} {
		_, err := f.ledger.MarkPaid(ctx, transactions.MarkPaidInput{TransactionID: row.ID, ActorID: "user-1"})
		require.NoError(t, err)
	}

	scope := "s1"
	res, err := f.svc.ConfirmAllPaid(ctx, "admin", &scope, false)
	require.NoError(t, err)
	require.True(t, res.Pending())

	res, err = f.svc.ConfirmAllPaid(ctx, "admin", &scope, false)
	require.NoError(t, err)
	batch := res.Value.(*transactions.BatchResult)
	require.Equal(t, 2, batch.Confirmed)
	require.NoError(t, batch.Err())
}

func TestReplaceAndRemoveAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr, err := f.addresses.Add(ctx, addresses.AddInput{ScopeID: "s1", Address: "old", CreatedBy: "admin", PreConfirmed: true})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.ReplaceAddress(ctx, "admin", addr.ID, "new")
		require.NoError(t, err)
	}
	got, err := f.addresses.Get(ctx, addr.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.Address)
	require.Equal(t, enums.AddressPendingConfirmation, got.ConfirmationState)

	for i := 0; i < 2; i++ {
		_, err = f.svc.RemoveAddress(ctx, "admin", addr.ID)
		require.NoError(t, err)
	}
	got, err = f.addresses.Get(ctx, addr.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	_, err = f.svc.ReplaceAddress(ctx, "admin", addr.ID, " ")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestAgentOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.agents.Create(ctx, agents.CreateInput{Handle: "alice", Weight: 5, MaxConcurrent: 2, ActorID: "admin"})
	require.NoError(t, err)
	_, err = f.agents.Assign(ctx, "u1", enums.AssignmentMethodSmart)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.ResetAgentLoad(ctx, "admin", agent.ID)
		require.NoError(t, err)
	}
	got, err := f.agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	require.Zero(t, got.CurrentCount)

	res, err := f.svc.DisableAgent(ctx, "admin", agent.ID)
	require.NoError(t, err)
	require.True(t, res.Pending())
	res, err = f.svc.DisableAgent(ctx, "admin", agent.ID)
	require.NoError(t, err)
	disabled := res.Value.(*models.SupportAgent)
	require.False(t, disabled.IsActive)
	require.Equal(t, enums.AgentStatusDisabled, disabled.Status)
}

func TestSetScopeMarkup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tooLarge := decimal.NewFromInt(500)
	_, err := f.svc.SetScopeMarkup(ctx, "admin", "s1", &tooLarge)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	markup := decimal.RequireFromString("-0.03")
	for i := 0; i < 2; i++ {
		_, err = f.svc.SetScopeMarkup(ctx, "admin", "s1", &markup)
		require.NoError(t, err)
	}
	row, err := f.settings.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, row.Markup)
	require.True(t, row.Markup.Equal(markup))
	require.Equal(t, "admin", row.UpdatedBy)

	method := "alipay"
	for i := 0; i < 2; i++ {
		_, err = f.svc.SetScopePaymentMethod(ctx, "admin", "s1", &method)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err = f.svc.SetScopeMarkup(ctx, "admin", "s1", nil)
		require.NoError(t, err)
	}
	row, err = f.settings.Get(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, row.Markup)
	require.Equal(t, "alipay", *row.PaymentMethod)

	events, err := f.outbox.ListByAggregate(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 3)
}

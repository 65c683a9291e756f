package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tillcore/backend/internal/creditcard"
	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
	"tillcore/backend/internal/store"
	"tillcore/backend/internal/store/memory"
)

const (
	codeBeans   = "800100200306"
	codeOatMilk = "800100200313"
	codeMug     = "800100200320"
	codeFilters = "800100200337"
	codeKettle  = "800100200344"

	cardVisa       = "4485370086510891"
	cardUnknown    = "5100293991053009"
	cardLowBalance = "4716258050958645"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.EventType)
	}
	return out
}

type fixture struct {
	svc       *Service
	repo      *memory.Store
	cards     *creditcard.Registry
	published *recordingPublisher
	clock     *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: memory.NewSeeded(),
		cards: creditcard.NewRegistry(map[string]decimal.Decimal{
			cardVisa:       decimal.NewFromInt(150),
			cardLowBalance: decimal.NewFromInt(5),
		}),
		published: &recordingPublisher{},
		clock:     &testClock{now: time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)},
	}
	f.svc = New(f.repo,
		WithCardGateway(f.cards),
		WithPublisher(f.published),
		WithClock(f.clock.Now),
	)
	return f
}

func asRole(role string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "tester", Role: role})
}

var (
	adminCtx   = asRole(domain.RoleAdministrator)
	cashierCtx = asRole(domain.RoleCashier)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) productType(t *testing.T, code string) domain.ProductType {
	t.Helper()
	var pt *domain.ProductType
	require.NoError(t, f.repo.View(context.Background(), func(ctx context.Context, r store.Reader) error {
		var err error
		pt, err = r.GetProductTypeByCode(ctx, code)
		return err
	}))
	return *pt
}

func (f *fixture) stock(t *testing.T, code string) int {
	t.Helper()
	return f.productType(t, code).Quantity
}

func (f *fixture) product(t *testing.T, rfid string) domain.Product {
	t.Helper()
	var p *domain.Product
	require.NoError(t, f.repo.View(context.Background(), func(ctx context.Context, r store.Reader) error {
		var err error
		p, err = r.GetProduct(ctx, rfid)
		return err
	}))
	return *p
}

func (f *fixture) order(t *testing.T, id int64) domain.Order {
	t.Helper()
	var o *domain.Order
	require.NoError(t, f.repo.View(context.Background(), func(ctx context.Context, r store.Reader) error {
		var err error
		o, err = r.GetOrder(ctx, id)
		return err
	}))
	return *o
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	balance, err := f.svc.ComputeBalance(adminCtx)
	require.NoError(t, err)
	return balance
}

// kettle adds a shelved product type priced 10 with the given stock.
func (f *fixture) kettle(t *testing.T, stock int) int64 {
	t.Helper()
	pt, err := f.svc.CreateProductType(adminCtx, domain.ProductTypeCreateRequest{
		Description: "Kettle",
		Code:        codeKettle,
		UnitPrice:   dec("10"),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdatePosition(adminCtx, pt.ID, "3-c-1"))
	require.NoError(t, f.svc.UpdateQuantity(adminCtx, pt.ID, stock))
	return pt.ID
}

// committedSale opens a sale, adds amount units of code and commits it.
func (f *fixture) committedSale(t *testing.T, code string, amount int) int64 {
	t.Helper()
	ticket, err := f.svc.StartSale(cashierCtx)
	require.NoError(t, err)
	require.NoError(t, f.svc.AddProductToSale(cashierCtx, ticket, code, amount))
	require.NoError(t, f.svc.EndSale(cashierCtx, ticket))
	return ticket
}

// paidSale is committedSale settled in cash.
func (f *fixture) paidSale(t *testing.T, code string, amount int) int64 {
	t.Helper()
	ticket := f.committedSale(t, code, amount)
	_, err := f.svc.ReceiveCashPayment(cashierCtx, ticket, dec("10000"))
	require.NoError(t, err)
	return ticket
}

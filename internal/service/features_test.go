package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/store"
	"tillcore/backend/internal/store/memory"
)

var featureErrors = map[string]error{
	"insufficient stock":           ErrInsufficientStock,
	"insufficient funds":           ErrInsufficientFunds,
	"product unavailable":          ErrProductUnavailable,
	"return exceeds sold quantity": ErrReturnExceedsSale,
	"order state":                  ErrOrderState,
}

type shopTestContext struct {
	svc        *Service
	repo       *memory.Store
	now        time.Time
	ticket     int64
	firstSale  int64
	returnID   int64
	orderID    int64
	err        error
	managerCtx context.Context
}

func (c *shopTestContext) reset() {
	c.repo = memory.NewSeeded()
	c.now = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	c.svc = New(c.repo, WithClock(func() time.Time { return c.now }))
	c.ticket, c.firstSale, c.returnID, c.orderID = 0, 0, 0, 0
	c.err = nil
	c.managerCtx = asRole(domain.RoleShopManager)
}

// record keeps the outcome of a When step; a failure there is asserted by a Then step.
func (c *shopTestContext) record(err error) error {
	c.err = err
	return nil
}

func (c *shopTestContext) aSeededShop() error {
	return nil
}

func (c *shopTestContext) productTypeOnShelf(code, description, price string, qty int, location string) error {
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	pt, err := c.svc.CreateProductType(c.managerCtx, domain.ProductTypeCreateRequest{Description: description, Code: code, UnitPrice: unitPrice})
	if err != nil {
		return err
	}
	if err := c.svc.UpdatePosition(c.managerCtx, pt.ID, location); err != nil {
		return err
	}
	return c.svc.UpdateQuantity(c.managerCtx, pt.ID, qty)
}

func (c *shopTestContext) theCashierOpensASale() error {
	if c.ticket != 0 && c.firstSale == 0 {
		c.firstSale = c.ticket
	}
	ticket, err := c.svc.StartSale(cashierCtx)
	if err != nil {
		return err
	}
	c.ticket = ticket
	return nil
}

func (c *shopTestContext) theCashierAddsUnits(qty int, code string) error {
	return c.record(c.svc.AddProductToSale(cashierCtx, c.ticket, code, qty))
}

func (c *shopTestContext) theCashierScansTag(rfid string) error {
	return c.record(c.svc.AddProductToSaleRFID(cashierCtx, c.ticket, rfid))
}

func (c *shopTestContext) theCashierDiscountsProduct(code, rate string) error {
	return c.record(c.svc.ApplyDiscountRateToProduct(cashierCtx, c.ticket, code, decimal.RequireFromString(rate)))
}

func (c *shopTestContext) theCashierDiscountsTheSale(rate string) error {
	return c.record(c.svc.ApplyDiscountRateToSale(cashierCtx, c.ticket, decimal.RequireFromString(rate)))
}

func (c *shopTestContext) theCashierCommitsTheSale() error {
	return c.record(c.svc.EndSale(cashierCtx, c.ticket))
}

func (c *shopTestContext) theCashierDeletesTheSale() error {
	return c.record(c.svc.DeleteSaleTransaction(cashierCtx, c.ticket))
}

func (c *shopTestContext) theSaleIsPaidInCash(cash string) error {
	_, err := c.svc.ReceiveCashPayment(cashierCtx, c.ticket, decimal.RequireFromString(cash))
	return err
}

func (c *shopTestContext) aPaidSaleOf(qty int, code string) error {
	if err := c.theCashierOpensASale(); err != nil {
		return err
	}
	if err := c.svc.AddProductToSale(cashierCtx, c.ticket, code, qty); err != nil {
		return err
	}
	if err := c.svc.EndSale(cashierCtx, c.ticket); err != nil {
		return err
	}
	return c.theSaleIsPaidInCash("10000")
}

func (c *shopTestContext) commitReturn(ticket int64, register func(id int64) error) error {
	id, err := c.svc.StartReturnTransaction(cashierCtx, ticket)
	if err != nil {
		return err
	}
	c.returnID = id
	if err := register(id); err != nil {
		return err
	}
	return c.svc.EndReturnTransaction(cashierCtx, id, true)
}

func (c *shopTestContext) theCashierReturnsUnits(qty int, code string) error {
	return c.record(c.commitReturn(c.ticket, func(id int64) error {
		return c.svc.ReturnProduct(cashierCtx, id, code, qty)
	}))
}

func (c *shopTestContext) theCashierReturnsTagFromTheFirstSale(rfid string) error {
	return c.record(c.commitReturn(c.firstSale, func(id int64) error {
		return c.svc.ReturnProductRFID(cashierCtx, id, rfid)
	}))
}

func (c *shopTestContext) theReturnIsRefundedInCash() error {
	_, err := c.svc.ReturnCashPayment(cashierCtx, c.returnID)
	return c.record(err)
}

func (c *shopTestContext) aLedgerCredit(amount string) error {
	return c.svc.RecordBalanceUpdate(c.managerCtx, decimal.RequireFromString(amount))
}

func (c *shopTestContext) aLedgerDebit(amount string) error {
	return c.svc.RecordBalanceUpdate(c.managerCtx, decimal.RequireFromString(amount).Neg())
}

func (c *shopTestContext) theManagerIssuesAnOrder(qty int, code, price string) error {
	id, err := c.svc.IssueOrder(c.managerCtx, code, qty, decimal.RequireFromString(price))
	if err != nil {
		return err
	}
	c.orderID = id
	return nil
}

func (c *shopTestContext) theManagerPaysTheOrder() error {
	return c.record(c.svc.PayOrder(c.managerCtx, c.orderID))
}

func (c *shopTestContext) theManagerRecordsTheArrival() error {
	return c.record(c.svc.RecordOrderArrival(c.managerCtx, c.orderID))
}

func (c *shopTestContext) theOperationSucceeds() error {
	return c.err
}

func (c *shopTestContext) theOperationFailsWith(name string) error {
	want, ok := featureErrors[name]
	if !ok {
		return fmt.Errorf("unknown error %q", name)
	}
	if !errors.Is(c.err, want) {
		return fmt.Errorf("expected %v, got %v", want, c.err)
	}
	return nil
}

func (c *shopTestContext) theSaleTotalIs(total string) error {
	sale, err := c.svc.GetSaleTransaction(cashierCtx, c.ticket)
	if err != nil {
		return err
	}
	if !sale.Total().Equal(decimal.RequireFromString(total)) {
		return fmt.Errorf("expected total %s, got %s", total, sale.Total())
	}
	return nil
}

func (c *shopTestContext) theSaleIsWorthPoints(points int) error {
	got, err := c.svc.ComputePointsForSale(cashierCtx, c.ticket)
	if err != nil {
		return err
	}
	if got != points {
		return fmt.Errorf("expected %d points, got %d", points, got)
	}
	return nil
}

func (c *shopTestContext) hasUnitsInStock(code string, qty int) error {
	var pt *domain.ProductType
	err := c.repo.View(context.Background(), func(ctx context.Context, r store.Reader) error {
		var err error
		pt, err = r.GetProductTypeByCode(ctx, code)
		return err
	})
	if err != nil {
		return err
	}
	if pt.Quantity != qty {
		return fmt.Errorf("expected %d units of %s, got %d", qty, code, pt.Quantity)
	}
	return nil
}

func (c *shopTestContext) tagIsAvailable(rfid string) error {
	product, err := c.svc.GetProductByRFID(cashierCtx, rfid)
	if err != nil {
		return err
	}
	if !product.Available {
		return fmt.Errorf("tag %s is not available", rfid)
	}
	return nil
}

func (c *shopTestContext) theLedgerBalanceIs(amount string) error {
	balance, err := c.svc.ComputeBalance(c.managerCtx)
	if err != nil {
		return err
	}
	if !balance.Equal(decimal.RequireFromString(amount)) {
		return fmt.Errorf("expected balance %s, got %s", amount, balance)
	}
	return nil
}

func (c *shopTestContext) theOrderIs(status string) error {
	orders, err := c.svc.GetAllOrders(c.managerCtx)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if order.ID == c.orderID {
			if string(order.Status) != status {
				return fmt.Errorf("expected order %s, got %s", status, order.Status)
			}
			return nil
		}
	}
	return fmt.Errorf("order %d not listed", c.orderID)
}

func (c *shopTestContext) todaysLedgerLists(n int, total string) error {
	entries, err := c.svc.GetCreditsAndDebits(c.managerCtx, c.now, c.now)
	if err != nil {
		return err
	}
	if len(entries) != n {
		return fmt.Errorf("expected %d entries, got %d", n, len(entries))
	}
	if sum := domain.Balance(entries); !sum.Equal(decimal.RequireFromString(total)) {
		return fmt.Errorf("expected entries to total %s, got %s", total, sum)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &shopTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a seeded shop$`, tc.aSeededShop)
	ctx.Step(`^product type "([^"]*)" "([^"]*)" priced (\S+) with (\d+) units on shelf "([^"]*)"$`, tc.productTypeOnShelf)
	ctx.Step(`^a paid sale of (\d+) units of "([^"]*)"$`, tc.aPaidSaleOf)
	ctx.Step(`^a ledger credit of (\S+)$`, tc.aLedgerCredit)
	ctx.Step(`^a ledger debit of (\S+)$`, tc.aLedgerDebit)

	// When steps
	ctx.Step(`^the cashier opens a sale$`, tc.theCashierOpensASale)
	ctx.Step(`^the cashier adds (\d+) units of "([^"]*)"$`, tc.theCashierAddsUnits)
	ctx.Step(`^the cashier scans tag "([^"]*)"$`, tc.theCashierScansTag)
	ctx.Step(`^the cashier discounts "([^"]*)" by (\S+)$`, tc.theCashierDiscountsProduct)
	ctx.Step(`^the cashier discounts the sale by (\S+)$`, tc.theCashierDiscountsTheSale)
	ctx.Step(`^the cashier commits the sale$`, tc.theCashierCommitsTheSale)
	ctx.Step(`^the cashier deletes the sale$`, tc.theCashierDeletesTheSale)
	ctx.Step(`^the sale is paid (\S+) in cash$`, tc.theSaleIsPaidInCash)
	ctx.Step(`^the cashier returns (\d+) units of "([^"]*)"$`, tc.theCashierReturnsUnits)
	ctx.Step(`^the cashier returns tag "([^"]*)" from the first sale$`, tc.theCashierReturnsTagFromTheFirstSale)
	ctx.Step(`^the return is refunded in cash$`, tc.theReturnIsRefundedInCash)
	ctx.Step(`^the manager issues an order of (\d+) units of "([^"]*)" at (\S+)$`, tc.theManagerIssuesAnOrder)
	ctx.Step(`^the manager pays the order$`, tc.theManagerPaysTheOrder)
	ctx.Step(`^the manager records the arrival$`, tc.theManagerRecordsTheArrival)

	// Then steps
	ctx.Step(`^the operation succeeds$`, tc.theOperationSucceeds)
	ctx.Step(`^the operation fails with "([^"]*)"$`, tc.theOperationFailsWith)
	ctx.Step(`^the sale total is (\S+)$`, tc.theSaleTotalIs)
	ctx.Step(`^the sale is worth (\d+) points$`, tc.theSaleIsWorthPoints)
	ctx.Step(`^"([^"]*)" has (\d+) units in stock$`, tc.hasUnitsInStock)
	ctx.Step(`^tag "([^"]*)" is available$`, tc.tagIsAvailable)
	ctx.Step(`^the ledger balance is (\S+)$`, tc.theLedgerBalanceIs)
	ctx.Step(`^the order is "([^"]*)"$`, tc.theOrderIs)
	ctx.Step(`^today's ledger lists (\d+) entries totalling (\S+)$`, tc.todaysLedgerLists)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

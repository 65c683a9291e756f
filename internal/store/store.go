package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tillcore/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid record")
)

// Reader exposes the lookups the lifecycle engines need. Every method returns
// copies; mutating a returned value never changes stored state.
type Reader interface {
	ListProductTypes(ctx context.Context) ([]domain.ProductType, error)
	GetProductTypeByID(ctx context.Context, id int64) (*domain.ProductType, error)
	GetProductTypeByCode(ctx context.Context, code string) (*domain.ProductType, error)
	GetProductTypeByLocation(ctx context.Context, location string) (*domain.ProductType, error)
	GetProduct(ctx context.Context, rfid string) (*domain.Product, error)
	ExistingRFIDs(ctx context.Context, rfids []string) ([]string, error)
	GetSale(ctx context.Context, ticket int64) (*domain.Sale, error)
	GetReturn(ctx context.Context, id int64) (*domain.Return, error)
	ListReturnsBySale(ctx context.Context, ticket int64) ([]domain.Return, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListBalanceTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.BalanceTransaction, error)
	ListBalanceTransactionsByRef(ctx context.Context, ref domain.BalanceRef) ([]domain.BalanceTransaction, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Writer persists entities. Create methods assign the next id from a
// repository-owned monotonic sequence.
type Writer interface {
	CreateProductType(ctx context.Context, pt domain.ProductType) (*domain.ProductType, error)
	UpdateProductType(ctx context.Context, pt domain.ProductType) error
	CreateProducts(ctx context.Context, products []domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, ticket int64) error
	CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)
	UpdateReturn(ctx context.Context, ret domain.Return) error
	DeleteReturn(ctx context.Context, id int64) error
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) error
	AppendBalanceTransaction(ctx context.Context, entry domain.BalanceTransaction) (*domain.BalanceTransaction, error)
}

type Tx interface {
	Reader
	Writer
}

type noRetryKey struct{}

// WithoutRetry marks ctx so WithTx runs its callback at most once. Callbacks
// with effects outside the store (card charges) must not be replayed.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func RetryAllowed(ctx context.Context) bool {
	noRetry, _ := ctx.Value(noRetryKey{}).(bool)
	return !noRetry
}

type Repository interface {
	// View runs fn against a consistent read-only view.
	View(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
	// WithTx runs fn atomically: either every write in fn is kept or none is.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

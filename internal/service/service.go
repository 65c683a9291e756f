package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"tillcore/backend/internal/cache"
	"tillcore/backend/internal/creditcard"
	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/events"
	"tillcore/backend/internal/logger"
	"tillcore/backend/internal/lock"
	"tillcore/backend/internal/metrics"
	"tillcore/backend/internal/rights"
	"tillcore/backend/internal/store"
	"tillcore/backend/internal/tracing"
	"tillcore/backend/internal/xid"
)

const eventSource = "tillcore"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo   store.Repository
	rights rights.Authorizer
	locker lock.Locker
	cards  creditcard.Gateway
	sales  *cache.ReadThrough
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithAuthorizer(a rights.Authorizer) Option {
	return func(s *Service) { s.rights = a }
}

func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithCardGateway(g creditcard.Gateway) Option {
	return func(s *Service) { s.cards = g }
}

func WithSaleCache(c cache.SaleCache, ttl time.Duration) Option {
	return func(s *Service) { s.sales = cache.NewReadThrough(c, ttl) }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now; ledger dates and creation times come from it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		rights: rights.DefaultRoleTable(),
		locker: lock.NewMemory(),
		cards:  creditcard.NewRegistry(nil),
		sales:  cache.NewReadThrough(cache.NoopSaleCache{}, 0),
		events: events.NoopPublisher{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) authorize(ctx context.Context, category rights.Category) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrUnauthorized
	}
	if err := s.rights.Authorize(ctx, actor, category); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

// mutate holds the entity locks for keys while fn runs in one repository transaction.
func (s *Service) mutate(ctx context.Context, op string, keys []string, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	ctx, span := tracing.Start(ctx, op, attribute.StringSlice("tillcore.locks", keys))
	defer func() { tracing.End(span, err) }()

	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return fmt.Errorf("acquire locks: %w", err)
	}
	defer unlock()

	return s.repo.WithTx(ctx, fn)
}

func (s *Service) view(ctx context.Context, op string, fn func(ctx context.Context, r store.Reader) error) (err error) {
	ctx, span := tracing.Start(ctx, op)
	defer func() { tracing.End(span, err) }()
	return s.repo.View(ctx, fn)
}

func (s *Service) today() time.Time {
	return s.now().UTC()
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	id := strconv.FormatInt(entityID, 10)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Actor:      actor.Username,
		Role:       actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   id,
		Detail:     detail,
		CreatedAt:  s.today(),
	}); err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "failed to write audit log",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+id),
			slog.String("error", err.Error()),
		)
	}
}

// publish sends a domain event once the producing transaction has committed.
// Delivery failures are logged and never fail the operation.
func (s *Service) publish(ctx context.Context, eventType string, aggregateType string, aggregateID int64, data any) {
	event, err := events.NewEvent(eventType, strconv.FormatInt(aggregateID, 10), aggregateType, eventSource, data)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build event", slog.String("event_type", eventType), slog.String("error", err.Error()))
		return
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if err := s.events.Publish(ctx, event); err != nil {
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "event not delivered",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// appendEntry writes a ledger entry dated now.
func (s *Service) appendEntry(ctx context.Context, tx store.Tx, kind domain.EntryKind, amount decimal.Decimal, ref domain.BalanceRef) (*domain.BalanceTransaction, error) {
	return tx.AppendBalanceTransaction(ctx, domain.BalanceTransaction{
		Kind:   kind,
		Amount: domain.RoundMoney(amount),
		Date:   s.today(),
		Ref:    ref,
	})
}

func countTransaction(entity string, event string) {
	metrics.TransactionsTotal.WithLabelValues(entity, event).Inc()
}

func countLedgerEntry(entry *domain.BalanceTransaction) {
	if entry == nil {
		return
	}
	metrics.LedgerEntriesTotal.WithLabelValues(string(entry.Kind), string(entry.Ref.Kind)).Inc()
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := s.authorize(ctx, rights.Users); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/store"
	"tillcore/backend/internal/xid"
)

// Store keeps everything in process memory. Transactions run against a working
// copy of the state which replaces the live state only when fn succeeds.
type Store struct {
	mu              sync.RWMutex
	st              *state
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

type sequences struct {
	productType int64
	sale        int64
	ret         int64
	order       int64
	balance     int64
}

type state struct {
	productTypes map[int64]domain.ProductType
	products     map[string]domain.Product
	sales        map[int64]domain.Sale
	returns      map[int64]domain.Return
	orders       map[int64]domain.Order
	ledger       []domain.BalanceTransaction
	seq          sequences
}

func newState() *state {
	return &state{
		productTypes: make(map[int64]domain.ProductType),
		products:     make(map[string]domain.Product),
		sales:        make(map[int64]domain.Sale),
		returns:      make(map[int64]domain.Return),
		orders:       make(map[int64]domain.Order),
		ledger:       make([]domain.BalanceTransaction, 0, 64),
	}
}

func (s *state) clone() *state {
	out := &state{
		productTypes: make(map[int64]domain.ProductType, len(s.productTypes)),
		products:     make(map[string]domain.Product, len(s.products)),
		sales:        make(map[int64]domain.Sale, len(s.sales)),
		returns:      make(map[int64]domain.Return, len(s.returns)),
		orders:       make(map[int64]domain.Order, len(s.orders)),
		ledger:       slices.Clone(s.ledger),
		seq:          s.seq,
	}
	for id, pt := range s.productTypes {
		out.productTypes[id] = pt
	}
	for rfid, p := range s.products {
		out.products[rfid] = p
	}
	for id, sale := range s.sales {
		out.sales[id] = sale.Clone()
	}
	for id, ret := range s.returns {
		out.returns[id] = ret.Clone()
	}
	for id, order := range s.orders {
		out.orders[id] = order.Clone()
	}
	return out
}

// seedUsers builds one account per role for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD; unset variables fall back to dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store is using default dev credentials; set SEED_*_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdministrator},
		{"manager", managerPwd, domain.RoleShopManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns a store with the seeded user accounts and an empty catalogue.
func New() *Store {
	return &Store{
		st:              newState(),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store with a small demo catalogue. The ledger starts empty.
func NewSeeded() *Store {
	s := New()
	seed := []domain.ProductType{
		{Code: "800100200306", Description: "Espresso beans 1kg", UnitPrice: decimal.RequireFromString("18.5"), Quantity: 40, Location: "1-a-1"},
		{Code: "800100200313", Description: "Oat milk 1L", UnitPrice: decimal.RequireFromString("2.15"), Quantity: 120, Location: "1-a-2"},
		{Code: "800100200320", Description: "Ceramic mug", UnitPrice: decimal.RequireFromString("7.9"), Quantity: 25, Location: "2-b-1"},
		{Code: "800100200337", Description: "Paper filters", UnitPrice: decimal.RequireFromString("3.3")},
	}
	for _, pt := range seed {
		s.st.seq.productType++
		pt.ID = s.st.seq.productType
		s.st.productTypes[pt.ID] = pt
	}
	for i := 1; i <= 5; i++ {
		rfid := fmt.Sprintf("%012d", i)
		s.st.products[rfid] = domain.Product{RFID: rfid, ProductTypeID: 3, Available: true}
	}
	return s
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, r store.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &tx{st: s.st})
}

// WithTx runs fn on a full copy of the state and swaps it in on success, so
// every write costs O(total state), ledger included. Fine for dev and tests.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, t store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// ListAuditLogs returns the newest entries first.
func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.auditLogs)
	slices.Reverse(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

var _ store.Repository = (*Store)(nil)

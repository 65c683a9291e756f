package creditcard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Registry is an in-process card network backed by a map of balances.
type Registry struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewRegistry(balances map[string]decimal.Decimal) *Registry {
	r := &Registry{balances: make(map[string]decimal.Decimal, len(balances))}
	for number, balance := range balances {
		r.balances[number] = balance
	}
	return r
}

// LoadFile reads a registry from lines of "<number>;<balance>". Blank lines and
// lines starting with # are skipped.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Registry, error) {
	balances := map[string]decimal.Decimal{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		number, rawBalance, ok := strings.Cut(text, ";")
		if !ok {
			return nil, fmt.Errorf("line %d: expected <number>;<balance>", line)
		}
		balance, err := decimal.NewFromString(strings.TrimSpace(rawBalance))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		balances[strings.TrimSpace(number)] = balance
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewRegistry(balances), nil
}

func (r *Registry) IsValidNumber(number string) bool {
	return ValidNumber(number)
}

func (r *Registry) IsRegistered(_ context.Context, number string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.balances[number]
	return ok, nil
}

func (r *Registry) HasEnoughBalance(_ context.Context, number string, amount decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[number]
	if !ok {
		return false, ErrNotRegistered
	}
	return balance.GreaterThanOrEqual(amount), nil
}

func (r *Registry) UpdateBalance(_ context.Context, number string, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[number]
	if !ok {
		return ErrNotRegistered
	}
	next := balance.Add(delta)
	if next.IsNegative() {
		return ErrInsufficientBalance
	}
	r.balances[number] = next
	return nil
}

// Balance returns the current balance of a registered card.
func (r *Registry) Balance(number string) (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[number]
	return balance, ok
}

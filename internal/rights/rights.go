// Package rights decides which roles may run which groups of operations.
package rights

import (
	"context"
	"errors"
	"slices"

	"tillcore/backend/internal/domain"
)

var ErrUnauthorized = errors.New("unauthorized")

type Category string

const (
	Sales     Category = "sales"
	Catalogue Category = "catalogue"
	Orders    Category = "orders"
	Balance   Category = "balance"
	Users     Category = "users"
)

// Authorizer answers whether actor may run an operation of the given category.
type Authorizer interface {
	Authorize(ctx context.Context, actor domain.Actor, category Category) error
}

// RoleTable is the static role matrix of the shop.
type RoleTable map[Category][]string

func DefaultRoleTable() RoleTable {
	managers := []string{domain.RoleAdministrator, domain.RoleShopManager}
	return RoleTable{
		Sales:     {domain.RoleAdministrator, domain.RoleShopManager, domain.RoleCashier},
		Catalogue: managers,
		Orders:    managers,
		Balance:   managers,
		Users:     {domain.RoleAdministrator},
	}
}

func (t RoleTable) Authorize(_ context.Context, actor domain.Actor, category Category) error {
	if actor.Username == "" || !slices.Contains(t[category], actor.Role) {
		return ErrUnauthorized
	}
	return nil
}

// ValidRole reports whether role is one of the known shop roles.
func ValidRole(role string) bool {
	switch role {
	case domain.RoleAdministrator, domain.RoleShopManager, domain.RoleCashier:
		return true
	}
	return false
}

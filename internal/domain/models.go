package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdministrator = "Administrator"
	RoleShopManager   = "ShopManager"
	RoleCashier       = "Cashier"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=Administrator ShopManager Cashier"`
}

type ProductType struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Location    string          `json:"location,omitempty"`
	Note        string          `json:"note,omitempty"`
}

// HasLocation reports whether the product type is assigned to a shelf position.
func (p ProductType) HasLocation() bool {
	return p.Location != ""
}

type ProductTypeCreateRequest struct {
	Description string          `json:"description" validate:"required"`
	Code        string          `json:"code" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Note        string          `json:"note"`
}

// Product is one physical unit of a ProductType identified by its RFID tag.
type Product struct {
	RFID          string `json:"rfid"`
	ProductTypeID int64  `json:"product_type_id"`
	Available     bool   `json:"available"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Role       string    `json:"role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

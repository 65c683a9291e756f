package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/service"
)

const dayLayout = "2006-01-02"

type itemRequest struct {
	Code   string `json:"code" validate:"required"`
	Amount int    `json:"amount" validate:"required,gt=0"`
}

type tagRequest struct {
	RFID string `json:"rfid" validate:"required,len=12,numeric"`
}

type rateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

type quantityRequest struct {
	Delta int `json:"delta"`
}

type positionRequest struct {
	Location string `json:"location" validate:"max=64"`
}

type cashRequest struct {
	Cash decimal.Decimal `json:"cash"`
}

type cardRequest struct {
	Card string `json:"card" validate:"required,numeric,min=12,max=19"`
}

type startReturnRequest struct {
	Ticket int64 `json:"ticket" validate:"required,gt=0"`
}

type endReturnRequest struct {
	Commit bool `json:"commit"`
}

type orderRequest struct {
	Code      string          `json:"code" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type arrivalRFIDRequest struct {
	FromRFID string `json:"from_rfid" validate:"required,len=12,numeric"`
}

type balanceUpdateRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrInactiveAccount) {
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleListProductTypes(w http.ResponseWriter, r *http.Request) {
	types, err := a.service.ListProductTypes(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_types": types})
}

func (a *API) handleCreateProductType(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductTypeCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	pt, err := a.service.CreateProductType(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product_type": pt})
}

func (a *API) handleGetProductType(w http.ResponseWriter, r *http.Request) {
	pt, err := a.service.GetProductTypeByBarCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_type": pt})
}

func (a *API) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.UpdateQuantity(r.Context(), pathID(r, "id"), req.Delta); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.UpdatePosition(r.Context(), pathID(r, "id"), req.Location); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProductByRFID(r.Context(), chi.URLParam(r, "rfid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleStartSale(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.StartSale(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ticket": ticket})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSaleTransaction(r.Context(), pathID(r, "ticket"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sale":   sale,
		"total":  sale.Total(),
		"points": sale.Points(),
	})
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSaleTransaction(r.Context(), pathID(r, "ticket")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddSaleItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.AddProductToSale(r.Context(), pathID(r, "ticket"), req.Code, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveSaleItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.DeleteProductFromSale(r.Context(), pathID(r, "ticket"), req.Code, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDiscountSaleItem(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	err := a.service.ApplyDiscountRateToProduct(r.Context(), pathID(r, "ticket"), chi.URLParam(r, "code"), req.Rate)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddSaleTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.AddProductToSaleRFID(r.Context(), pathID(r, "ticket"), req.RFID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveSaleTag(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProductFromSaleRFID(r.Context(), pathID(r, "ticket"), chi.URLParam(r, "rfid")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDiscountSale(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.ApplyDiscountRateToSale(r.Context(), pathID(r, "ticket"), req.Rate); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSalePoints(w http.ResponseWriter, r *http.Request) {
	points, err := a.service.ComputePointsForSale(r.Context(), pathID(r, "ticket"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (a *API) handleCommitSale(w http.ResponseWriter, r *http.Request) {
	if err := a.service.EndSale(r.Context(), pathID(r, "ticket")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCashPayment(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	change, err := a.service.ReceiveCashPayment(r.Context(), pathID(r, "ticket"), req.Cash)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"change": change})
}

func (a *API) handleCardPayment(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.ReceiveCreditCardPayment(r.Context(), pathID(r, "ticket"), req.Card); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStartReturn(w http.ResponseWriter, r *http.Request) {
	var req startReturnRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id, err := a.service.StartReturnTransaction(r.Context(), req.Ticket)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return_id": id})
}

func (a *API) handleDeleteReturn(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteReturnTransaction(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReturnItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.ReturnProduct(r.Context(), pathID(r, "id"), req.Code, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReturnTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.ReturnProductRFID(r.Context(), pathID(r, "id"), req.RFID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEndReturn(w http.ResponseWriter, r *http.Request) {
	var req endReturnRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.EndReturnTransaction(r.Context(), pathID(r, "id"), req.Commit); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCashRefund(w http.ResponseWriter, r *http.Request) {
	refunded, err := a.service.ReturnCashPayment(r.Context(), pathID(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunded": refunded})
}

func (a *API) handleCardRefund(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	refunded, err := a.service.ReturnCreditCardPayment(r.Context(), pathID(r, "id"), req.Card)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunded": refunded})
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.GetAllOrders(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleIssueOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id, err := a.service.IssueOrder(r.Context(), req.Code, req.Quantity, req.UnitPrice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order_id": id})
}

func (a *API) handlePayOrderFor(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id, err := a.service.PayOrderFor(r.Context(), req.Code, req.Quantity, req.UnitPrice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order_id": id})
}

func (a *API) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	if err := a.service.PayOrder(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOrderArrival(w http.ResponseWriter, r *http.Request) {
	if err := a.service.RecordOrderArrival(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOrderArrivalRFID(w http.ResponseWriter, r *http.Request) {
	var req arrivalRFIDRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.RecordOrderArrivalRFID(r.Context(), pathID(r, "id"), req.FromRFID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.service.ComputeBalance(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (a *API) handleBalanceTransactions(w http.ResponseWriter, r *http.Request) {
	from, err := parseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	to, err := parseDay(r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	entries, err := a.service.GetCreditsAndDebits(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"net":          domain.Balance(entries),
	})
}

func (a *API) handleBalanceUpdate(w http.ResponseWriter, r *http.Request) {
	var req balanceUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.service.RecordBalanceUpdate(r.Context(), req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseDay reads an optional YYYY-MM-DD bound; empty means unbounded.
func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(dayLayout, raw)
	if err != nil {
		return time.Time{}, service.ErrInvalidDateRange
	}
	return day, nil
}

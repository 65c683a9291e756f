package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/store"
)

// queries implements store.Tx on top of a pgx transaction. Decimals travel as
// text so NUMERIC values keep their exact scale.
type queries struct {
	db DBTX
}

var _ store.Tx = (*queries)(nil)

const productTypeColumns = `id, code, description, unit_price::text, quantity, COALESCE(location, ''), note`

func scanProductType(row pgx.Row) (*domain.ProductType, error) {
	var pt domain.ProductType
	var price string
	if err := row.Scan(&pt.ID, &pt.Code, &pt.Description, &price, &pt.Quantity, &pt.Location, &pt.Note); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var err error
	if pt.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	return &pt, nil
}

func (q *queries) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	rows, err := q.db.Query(ctx, `SELECT `+productTypeColumns+` FROM product_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ProductType, 0, 64)
	for rows.Next() {
		pt, err := scanProductType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pt)
	}
	return out, rows.Err()
}

func (q *queries) GetProductTypeByID(ctx context.Context, id int64) (*domain.ProductType, error) {
	return scanProductType(q.db.QueryRow(ctx, `SELECT `+productTypeColumns+` FROM product_types WHERE id = $1`, id))
}

func (q *queries) GetProductTypeByCode(ctx context.Context, code string) (*domain.ProductType, error) {
	return scanProductType(q.db.QueryRow(ctx, `SELECT `+productTypeColumns+` FROM product_types WHERE code = $1`, code))
}

func (q *queries) GetProductTypeByLocation(ctx context.Context, location string) (*domain.ProductType, error) {
	if location == "" {
		return nil, store.ErrNotFound
	}
	return scanProductType(q.db.QueryRow(ctx, `SELECT `+productTypeColumns+` FROM product_types WHERE location = $1`, location))
}

func (q *queries) GetProduct(ctx context.Context, rfid string) (*domain.Product, error) {
	var p domain.Product
	err := q.db.QueryRow(ctx, `
		SELECT rfid, product_type_id, available
		FROM products
		WHERE rfid = $1
	`, rfid).Scan(&p.RFID, &p.ProductTypeID, &p.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (q *queries) ExistingRFIDs(ctx context.Context, rfids []string) ([]string, error) {
	if len(rfids) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `SELECT rfid FROM products WHERE rfid = ANY($1) ORDER BY rfid`, rfids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var rfid string
		if err := rows.Scan(&rfid); err != nil {
			return nil, err
		}
		found = append(found, rfid)
	}
	return found, rows.Err()
}

func (q *queries) GetSale(ctx context.Context, ticket int64) (*domain.Sale, error) {
	sale := domain.Sale{Lines: map[int64]domain.SaleLine{}, Tags: map[string]domain.SaleTag{}}
	var rate string
	err := q.db.QueryRow(ctx, `
		SELECT ticket, state, discount_rate::text, created_at
		FROM sales
		WHERE ticket = $1
	`, ticket).Scan(&sale.Ticket, &sale.State, &rate, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if sale.DiscountRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}

	lineRows, err := q.db.Query(ctx, `
		SELECT product_type_id, code, description, unit_price::text, quantity, discount_rate::text
		FROM sale_lines
		WHERE ticket = $1
	`, ticket)
	if err != nil {
		return nil, err
	}
	for lineRows.Next() {
		var line domain.SaleLine
		var price, lineRate string
		if err := lineRows.Scan(&line.ProductTypeID, &line.Code, &line.Description, &price, &line.Quantity, &lineRate); err != nil {
			lineRows.Close()
			return nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			lineRows.Close()
			return nil, err
		}
		if line.DiscountRate, err = decimal.NewFromString(lineRate); err != nil {
			lineRows.Close()
			return nil, err
		}
		sale.Lines[line.ProductTypeID] = line
	}
	lineRows.Close()
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	tags, err := q.loadTags(ctx, `SELECT rfid, product_type_id FROM sale_tags WHERE ticket = $1`, ticket)
	if err != nil {
		return nil, err
	}
	sale.Tags = tags
	return &sale, nil
}

func (q *queries) GetReturn(ctx context.Context, id int64) (*domain.Return, error) {
	ret := domain.Return{Lines: map[int64]domain.ReturnLine{}, Tags: map[string]domain.SaleTag{}}
	var rate string
	err := q.db.QueryRow(ctx, `
		SELECT id, sale_ticket, state, sale_discount_rate::text, balance_id, created_at
		FROM returns
		WHERE id = $1
	`, id).Scan(&ret.ID, &ret.SaleTicket, &ret.State, &rate, &ret.BalanceID, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	ret.CreatedAt = ret.CreatedAt.UTC()
	if ret.SaleDiscountRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}

	lineRows, err := q.db.Query(ctx, `
		SELECT product_type_id, code, unit_price::text, discount_rate::text, quantity
		FROM return_lines
		WHERE return_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	for lineRows.Next() {
		var line domain.ReturnLine
		var price, lineRate string
		if err := lineRows.Scan(&line.ProductTypeID, &line.Code, &price, &lineRate, &line.Quantity); err != nil {
			lineRows.Close()
			return nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			lineRows.Close()
			return nil, err
		}
		if line.DiscountRate, err = decimal.NewFromString(lineRate); err != nil {
			lineRows.Close()
			return nil, err
		}
		ret.Lines[line.ProductTypeID] = line
	}
	lineRows.Close()
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	tags, err := q.loadTags(ctx, `SELECT rfid, product_type_id FROM return_tags WHERE return_id = $1`, id)
	if err != nil {
		return nil, err
	}
	ret.Tags = tags
	return &ret, nil
}

func (q *queries) ListReturnsBySale(ctx context.Context, ticket int64) ([]domain.Return, error) {
	ids, err := q.collectIDs(ctx, `SELECT id FROM returns WHERE sale_ticket = $1 ORDER BY id`, ticket)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Return, 0, len(ids))
	for _, id := range ids {
		ret, err := q.GetReturn(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *ret)
	}
	return out, nil
}

const orderColumns = `id, product_type_id, product_code, unit_price::text, quantity, status, balance_id, created_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var price string
	if err := row.Scan(&order.ID, &order.ProductTypeID, &order.ProductCode, &price, &order.Quantity, &order.Status, &order.BalanceID, &order.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	var err error
	if order.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	return &order, nil
}

func (q *queries) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (q *queries) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := q.db.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *order)
	}
	return out, rows.Err()
}

const balanceColumns = `id, kind, amount::text, created_at, ref_kind, ref_id`

func (q *queries) ListBalanceTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.BalanceTransaction, error) {
	return q.listBalance(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_transactions
		WHERE ($1::date IS NULL OR (created_at AT TIME ZONE 'UTC')::date >= $1::date)
			AND ($2::date IS NULL OR (created_at AT TIME ZONE 'UTC')::date <= $2::date)
		ORDER BY id
	`, nullDay(from), nullDay(to))
}

func (q *queries) ListBalanceTransactionsByRef(ctx context.Context, ref domain.BalanceRef) ([]domain.BalanceTransaction, error) {
	return q.listBalance(ctx, `
		SELECT `+balanceColumns+`
		FROM balance_transactions
		WHERE ref_kind = $1 AND ref_id = $2
		ORDER BY id
	`, string(ref.Kind), ref.ID)
}

func (q *queries) listBalance(ctx context.Context, sql string, args ...any) ([]domain.BalanceTransaction, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BalanceTransaction, 0, 64)
	for rows.Next() {
		var entry domain.BalanceTransaction
		var amount string
		if err := rows.Scan(&entry.ID, &entry.Kind, &amount, &entry.Date, &entry.Ref.Kind, &entry.Ref.ID); err != nil {
			return nil, err
		}
		if entry.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		entry.Date = entry.Date.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Balance is recomputed from the ledger on every call.
func (q *queries) Balance(ctx context.Context) (decimal.Decimal, error) {
	var total string
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'CREDIT' THEN amount ELSE -amount END), 0)::text
		FROM balance_transactions
	`).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.RoundMoney(balance), nil
}

func (q *queries) CreateProductType(ctx context.Context, pt domain.ProductType) (*domain.ProductType, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO product_types (code, description, unit_price, quantity, location, note)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		RETURNING id
	`, pt.Code, pt.Description, pt.UnitPrice.String(), pt.Quantity, nullIfEmpty(pt.Location), pt.Note).Scan(&pt.ID)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &pt, nil
}

func (q *queries) UpdateProductType(ctx context.Context, pt domain.ProductType) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE product_types
		SET code = $2, description = $3, unit_price = $4::numeric, quantity = $5, location = $6, note = $7
		WHERE id = $1
	`, pt.ID, pt.Code, pt.Description, pt.UnitPrice.String(), pt.Quantity, nullIfEmpty(pt.Location), pt.Note)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) CreateProducts(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	rfids := make([]string, 0, len(products))
	typeIDs := make([]int64, 0, len(products))
	available := make([]bool, 0, len(products))
	for _, p := range products {
		rfids = append(rfids, p.RFID)
		typeIDs = append(typeIDs, p.ProductTypeID)
		available = append(available, p.Available)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO products (rfid, product_type_id, available)
		SELECT * FROM unnest($1::text[], $2::bigint[], $3::boolean[])
	`, rfids, typeIDs, available)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	return mapWriteError(err)
}

func (q *queries) UpdateProduct(ctx context.Context, product domain.Product) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE products SET product_type_id = $2, available = $3 WHERE rfid = $1
	`, product.RFID, product.ProductTypeID, product.Available)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO sales (state, discount_rate, created_at)
		VALUES ($1, $2::numeric, $3)
		RETURNING ticket
	`, string(sale.State), sale.DiscountRate.String(), sale.CreatedAt).Scan(&sale.Ticket)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := q.replaceSaleItems(ctx, sale); err != nil {
		return nil, err
	}
	out := sale.Clone()
	return &out, nil
}

func (q *queries) UpdateSale(ctx context.Context, sale domain.Sale) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE sales SET state = $2, discount_rate = $3::numeric WHERE ticket = $1
	`, sale.Ticket, string(sale.State), sale.DiscountRate.String())
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return q.replaceSaleItems(ctx, sale)
}

// replaceSaleItems rewrites the lines and tags of a sale.
func (q *queries) replaceSaleItems(ctx context.Context, sale domain.Sale) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM sale_lines WHERE ticket = $1`, sale.Ticket); err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM sale_tags WHERE ticket = $1`, sale.Ticket); err != nil {
		return err
	}
	for _, line := range sale.SortedLines() {
		_, err := q.db.Exec(ctx, `
			INSERT INTO sale_lines (ticket, product_type_id, code, description, unit_price, quantity, discount_rate)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric)
		`, sale.Ticket, line.ProductTypeID, line.Code, line.Description, line.UnitPrice.String(), line.Quantity, line.DiscountRate.String())
		if err != nil {
			return mapWriteError(err)
		}
	}
	for _, tag := range sale.SortedTags() {
		_, err := q.db.Exec(ctx, `
			INSERT INTO sale_tags (ticket, rfid, product_type_id) VALUES ($1, $2, $3)
		`, sale.Ticket, tag.RFID, tag.ProductTypeID)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (q *queries) DeleteSale(ctx context.Context, ticket int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM sales WHERE ticket = $1`, ticket)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO returns (sale_ticket, state, sale_discount_rate, balance_id, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING id
	`, ret.SaleTicket, string(ret.State), ret.SaleDiscountRate.String(), ret.BalanceID, ret.CreatedAt).Scan(&ret.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, mapWriteError(err)
	}
	if err := q.replaceReturnItems(ctx, ret); err != nil {
		return nil, err
	}
	out := ret.Clone()
	return &out, nil
}

func (q *queries) UpdateReturn(ctx context.Context, ret domain.Return) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE returns SET state = $2, balance_id = $3 WHERE id = $1
	`, ret.ID, string(ret.State), ret.BalanceID)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return q.replaceReturnItems(ctx, ret)
}

func (q *queries) replaceReturnItems(ctx context.Context, ret domain.Return) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM return_lines WHERE return_id = $1`, ret.ID); err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM return_tags WHERE return_id = $1`, ret.ID); err != nil {
		return err
	}
	for _, line := range ret.Lines {
		_, err := q.db.Exec(ctx, `
			INSERT INTO return_lines (return_id, product_type_id, code, unit_price, discount_rate, quantity)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		`, ret.ID, line.ProductTypeID, line.Code, line.UnitPrice.String(), line.DiscountRate.String(), line.Quantity)
		if err != nil {
			return mapWriteError(err)
		}
	}
	for _, tag := range ret.Tags {
		_, err := q.db.Exec(ctx, `
			INSERT INTO return_tags (return_id, rfid, product_type_id) VALUES ($1, $2, $3)
		`, ret.ID, tag.RFID, tag.ProductTypeID)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (q *queries) DeleteReturn(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM returns WHERE id = $1`, id)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO orders (product_type_id, product_code, unit_price, quantity, status, balance_id, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		RETURNING id
	`, order.ProductTypeID, order.ProductCode, order.UnitPrice.String(), order.Quantity, string(order.Status), order.BalanceID, order.CreatedAt).Scan(&order.ID)
	if err != nil {
		return nil, mapWriteError(err)
	}
	out := order.Clone()
	return &out, nil
}

func (q *queries) UpdateOrder(ctx context.Context, order domain.Order) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE orders SET status = $2, balance_id = $3 WHERE id = $1
	`, order.ID, string(order.Status), order.BalanceID)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) AppendBalanceTransaction(ctx context.Context, entry domain.BalanceTransaction) (*domain.BalanceTransaction, error) {
	if !entry.Amount.IsPositive() {
		return nil, store.ErrInvalid
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO balance_transactions (kind, amount, created_at, ref_kind, ref_id)
		VALUES ($1, $2::numeric, $3, $4, $5)
		RETURNING id
	`, string(entry.Kind), entry.Amount.String(), entry.Date, string(entry.Ref.Kind), entry.Ref.ID).Scan(&entry.ID)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return &entry, nil
}

func (q *queries) loadTags(ctx context.Context, sql string, id int64) (map[string]domain.SaleTag, error) {
	rows, err := q.db.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make(map[string]domain.SaleTag)
	for rows.Next() {
		var tag domain.SaleTag
		if err := rows.Scan(&tag.RFID, &tag.ProductTypeID); err != nil {
			return nil, err
		}
		tags[tag.RFID] = tag
	}
	return tags, rows.Err()
}

func (q *queries) collectIDs(ctx context.Context, sql string, args ...any) ([]int64, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

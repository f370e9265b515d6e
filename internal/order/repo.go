package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PgxStore backs the order state machine with postgres. Status flips are
// single conditional UPDATEs; the partial unique index on pending orders
// enforces one active order per user at insert time.
type PgxStore struct{ DB *pgxpool.Pool }

func (r *PgxStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var u User
	err := r.DB.QueryRow(ctx,
		`SELECT id, name, member_status, is_banned FROM users WHERE id=$1`, userID).
		Scan(&u.ID, &u.Name, &u.MemberStatus, &u.IsBanned)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (r *PgxStore) GetProduct(ctx context.Context, productID int) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, category, customer_price, reseller_price, sold_count, is_active
		FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.Name, &p.Category, &p.CustomerPrice, &p.ResellerPrice, &p.SoldCount, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductUnavailable
	}
	return p, err
}

func (r *PgxStore) Insert(ctx context.Context, o Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, invoice_id, user_id, subtotal, discount, fee, total,
		                   payment_method, status, flagged, created_at, deadline, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.InvoiceID, o.UserID, o.Subtotal, o.Discount, o.Fee, o.Total,
		o.PaymentMethod, o.Status, o.Flagged, o.CreatedAt, o.Deadline, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation &&
			pgErr.ConstraintName == "idx_orders_one_pending" {
			return ErrPendingOrderExists
		}
		return err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, stock_id, unit_price)
			VALUES ($1,$2,$3,$4)`,
			o.ID, it.ProductID, it.StockID, it.UnitPrice); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PgxStore) Get(ctx context.Context, orderID string) (Order, error) {
	return r.get(ctx, `WHERE id=$1`, orderID)
}

func (r *PgxStore) GetByInvoice(ctx context.Context, invoiceID string) (Order, error) {
	return r.get(ctx, `WHERE invoice_id=$1`, invoiceID)
}

func (r *PgxStore) get(ctx context.Context, where string, arg any) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, invoice_id, user_id, subtotal, discount, fee, total,
		       payment_method, status, flagged, created_at, deadline, updated_at
		FROM orders `+where, arg).
		Scan(&o.ID, &o.InvoiceID, &o.UserID, &o.Subtotal, &o.Discount, &o.Fee, &o.Total,
			&o.PaymentMethod, &o.Status, &o.Flagged, &o.CreatedAt, &o.Deadline, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, stock_id, unit_price FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.StockID, &it.UnitPrice); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *PgxStore) UpdateTotals(ctx context.Context, orderID string, discount, fee, total int64) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET discount=$2, fee=$3, total=$4, updated_at=NOW()
		WHERE id=$1 AND status='pending'`,
		orderID, discount, fee, total)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgxStore) Transition(ctx context.Context, orderID string, to Status) (bool, error) {
	if !CanTransition(StatusPending, to) {
		return false, nil
	}
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status='pending'`,
		orderID, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgxStore) TransitionExpired(ctx context.Context, orderID string, now time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='expired', updated_at=NOW()
		WHERE id=$1 AND status='pending' AND deadline <= $2`,
		orderID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgxStore) DuePending(ctx context.Context, now time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, invoice_id, user_id, subtotal, discount, fee, total,
		       payment_method, status, flagged, created_at, deadline, updated_at
		FROM orders
		WHERE status='pending' AND deadline <= $1
		ORDER BY deadline
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *PgxStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, invoice_id, user_id, subtotal, discount, fee, total,
		       payment_method, status, flagged, created_at, deadline, updated_at
		FROM orders
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *PgxStore) CountRecentOrders(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id=$1 AND created_at >= $2`,
		userID, since).Scan(&n)
	return n, err
}

func (r *PgxStore) CountFailedOrders(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE user_id=$1 AND status IN ('expired','cancelled') AND created_at >= $2`,
		userID, since).Scan(&n)
	return n, err
}

func (r *PgxStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status='pending'),
		       COUNT(*) FILTER (WHERE status='paid'),
		       COUNT(*) FILTER (WHERE status='expired'),
		       COUNT(*) FILTER (WHERE status='cancelled'),
		       COALESCE(SUM(total) FILTER (WHERE status='paid'), 0)
		FROM orders`).
		Scan(&st.Total, &st.Pending, &st.Paid, &st.Expired, &st.Cancelled, &st.Revenue)
	return st, err
}

func (r *PgxStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, category, customer_price, reseller_price, sold_count, is_active
		FROM products WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.CustomerPrice,
			&p.ResellerPrice, &p.SoldCount, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.InvoiceID, &o.UserID, &o.Subtotal, &o.Discount,
			&o.Fee, &o.Total, &o.PaymentMethod, &o.Status, &o.Flagged,
			&o.CreatedAt, &o.Deadline, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

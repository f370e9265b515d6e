package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool keeps stock state in postgres. Claims lock candidate rows with
// FOR UPDATE SKIP LOCKED so two concurrent claims for the last unit never
// both succeed, without serializing unrelated claims.
type PgxPool struct{ DB *pgxpool.Pool }

func (p *PgxPool) Claim(ctx context.Context, orderID string, productID int, qty int) ([]Unit, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("claim qty must be positive, got %d", qty)
	}

	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE product_stocks
		SET state='reserved', order_id=$1, updated_at=NOW()
		WHERE id IN (
			SELECT id FROM product_stocks
			WHERE product_id=$2 AND state='free'
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, product_id, content, state, order_id`,
		orderID, productID, qty)
	if err != nil {
		return nil, err
	}

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Content, &u.State, &u.OrderID); err != nil {
			rows.Close()
			return nil, err
		}
		units = append(units, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(units) < qty {
		// short claim: rollback via defer, nothing stays reserved
		return nil, fmt.Errorf("product %d: need %d, got %d: %w",
			productID, qty, len(units), ErrInsufficientStock)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return units, nil
}

func (p *PgxPool) Release(ctx context.Context, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return nil
	}
	// state guard makes this a no-op for free or sold units
	_, err := p.DB.Exec(ctx, `
		UPDATE product_stocks
		SET state='free', order_id=NULL, updated_at=NOW()
		WHERE id = ANY($1::uuid[]) AND state='reserved'`,
		unitIDs)
	return err
}

func (p *PgxPool) Commit(ctx context.Context, orderID string, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return nil
	}

	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE product_stocks
		SET state='sold', updated_at=NOW()
		WHERE id = ANY($1::uuid[]) AND state='reserved' AND order_id=$2
		RETURNING product_id`,
		unitIDs, orderID)
	if err != nil {
		return err
	}
	soldPerProduct := map[int]int{}
	n := 0
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return err
		}
		soldPerProduct[pid]++
		n++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if n != len(unitIDs) {
		return fmt.Errorf("commit for order %s touched %d of %d units: %w",
			orderID, n, len(unitIDs), ErrInvalidState)
	}

	for pid, sold := range soldPerProduct {
		if _, err := tx.Exec(ctx,
			`UPDATE products SET sold_count = sold_count + $2, updated_at=NOW() WHERE id=$1`,
			pid, sold); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// AddUnits is inventory intake: one row per piece of digital content.
func (p *PgxPool) AddUnits(ctx context.Context, productID int, contents []string) ([]string, error) {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, len(contents))
	for _, c := range contents {
		id := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_stocks(id, product_id, content, state)
			VALUES ($1, $2, $3, 'free')`,
			id, productID, c); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *PgxPool) FreeCount(ctx context.Context, productID int) (int, error) {
	var n int
	err := p.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM product_stocks WHERE product_id=$1 AND state='free'`,
		productID).Scan(&n)
	return n, err
}

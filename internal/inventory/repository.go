package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads inventory balances from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListBalances loads the balances of productIDs in a warehouse. Missing rows are omitted.
func (r *Repository) ListBalances(ctx context.Context, warehouseID int64, productIDs []int64) ([]Balance, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, product_id, qty, reserved_qty, avg_cost, updated_at
FROM inventory_balances WHERE warehouse_id=$1 AND product_id = ANY($2)
ORDER BY product_id`, warehouseID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.WarehouseID, &bal.ProductID, &bal.Qty, &bal.Reserved, &bal.AvgCost, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

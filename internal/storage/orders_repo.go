package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

// OrderRepo 订单表读写（只追加）
type OrderRepo struct {
	db *sql.DB
}

func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO orders (order_id,strategy_id,market_id,token_id,side,size,price,status,reason,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, o.OrderID, o.StrategyID, o.MarketID, o.TokenID, string(o.Side), o.Size, o.Price,
		string(o.Status), o.Reason, o.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *OrderRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id,order_id,strategy_id,market_id,token_id,side,size,price,status,reason,created_at
FROM orders ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *OrderRepo) FindByStrategy(ctx context.Context, strategyID string) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,order_id,strategy_id,market_id,token_id,side,size,price,status,reason,created_at
FROM orders WHERE strategy_id=? ORDER BY id DESC
`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	var out []*domain.Order
	for rows.Next() {
		var o domain.Order
		var side, status, created string
		if err := rows.Scan(&o.ID, &o.OrderID, &o.StrategyID, &o.MarketID, &o.TokenID,
			&side, &o.Size, &o.Price, &status, &o.Reason, &created); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Status = domain.OrderStatus(status)
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, &o)
	}
	return out, rows.Err()
}

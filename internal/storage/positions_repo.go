package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

// PositionRepo 持仓表读写
type PositionRepo struct {
	db *sql.DB
}

func (r *PositionRepo) Upsert(ctx context.Context, p *domain.Position) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO positions (market_id,strategy_id,token_id,size,avg_price,unrealized_pnl,updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(market_id,strategy_id) DO UPDATE SET
  token_id=excluded.token_id,
  size=excluded.size,
  avg_price=excluded.avg_price,
  unrealized_pnl=excluded.unrealized_pnl,
  updated_at=excluded.updated_at
`, p.MarketID, p.StrategyID, p.TokenID, p.Size, p.AvgPrice, p.UnrealizedPnl, p.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

func (r *PositionRepo) FindAll(ctx context.Context) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT market_id,strategy_id,token_id,size,avg_price,unrealized_pnl,updated_at
FROM positions
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		var p domain.Position
		var updated string
		if err := rows.Scan(&p.MarketID, &p.StrategyID, &p.TokenID, &p.Size, &p.AvgPrice, &p.UnrealizedPnl, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, &p)
	}
	return out, rows.Err()
}

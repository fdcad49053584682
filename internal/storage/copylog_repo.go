package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

// CopyLogRepo 复制记录表读写。tx_hash 为主键，重复插入
// 静默忽略，为内存去重环提供最后一道防线。
type CopyLogRepo struct {
	db *sql.DB
}

func (r *CopyLogRepo) Insert(ctx context.Context, ct *domain.CopiedTrade) error {
	_, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO copy_trades
  (tx_hash,wallet_address,label,market_id,token_id,side,original_size,copied_size,price,title,outcome,ts)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, ct.TxHash, ct.WalletAddress, ct.Label, ct.MarketID, ct.TokenID, string(ct.Side),
		ct.OriginalSize, ct.CopiedSize, ct.Price, ct.Title, ct.Outcome,
		ct.Timestamp.Format(time.RFC3339Nano))
	return err
}

func (r *CopyLogRepo) FindRecent(ctx context.Context, limit int) ([]*domain.CopiedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT tx_hash,wallet_address,label,market_id,token_id,side,original_size,copied_size,price,title,outcome,ts
FROM copy_trades ORDER BY ts DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CopiedTrade
	for rows.Next() {
		var ct domain.CopiedTrade
		var side, ts string
		if err := rows.Scan(&ct.TxHash, &ct.WalletAddress, &ct.Label, &ct.MarketID, &ct.TokenID,
			&side, &ct.OriginalSize, &ct.CopiedSize, &ct.Price, &ct.Title, &ct.Outcome, &ts); err != nil {
			return nil, err
		}
		ct.Side = domain.Side(side)
		ct.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &ct)
	}
	return out, rows.Err()
}

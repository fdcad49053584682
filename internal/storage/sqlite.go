package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var log = logrus.WithField("module", "storage")

// Store 封装 SQLite 数据库句柄，持有持仓/订单/复制记录三张表。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库并执行建表迁移。
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "创建数据目录失败")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开 sqlite 失败")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("sqlite 就绪: %s", path)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS positions (
  market_id TEXT NOT NULL,
  strategy_id TEXT NOT NULL,
  token_id TEXT NOT NULL DEFAULT '',
  size REAL NOT NULL,
  avg_price REAL NOT NULL,
  unrealized_pnl REAL NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (market_id, strategy_id)
);`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT,
  strategy_id TEXT NOT NULL,
  market_id TEXT NOT NULL,
  token_id TEXT NOT NULL,
  side TEXT NOT NULL,
  size REAL NOT NULL,
  price REAL NOT NULL,
  status TEXT NOT NULL,
  reason TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_strategy_created ON orders(strategy_id, created_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS copy_trades (
  tx_hash TEXT PRIMARY KEY,
  wallet_address TEXT NOT NULL,
  label TEXT,
  market_id TEXT NOT NULL,
  token_id TEXT NOT NULL,
  side TEXT NOT NULL,
  original_size REAL NOT NULL,
  copied_size REAL NOT NULL,
  price REAL NOT NULL,
  title TEXT,
  outcome TEXT,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_copy_trades_ts ON copy_trades(ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "迁移失败: %.60s", stmt)
		}
	}
	return nil
}

// Positions 返回持仓表仓库
func (s *Store) Positions() *PositionRepo { return &PositionRepo{db: s.db} }

// Orders 返回订单表仓库
func (s *Store) Orders() *OrderRepo { return &OrderRepo{db: s.db} }

// CopyLog 返回复制记录表仓库
func (s *Store) CopyLog() *CopyLogRepo { return &CopyLogRepo{db: s.db} }

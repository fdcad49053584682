package storage

import (
	"encoding/json"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/betbot/copyflow/internal/copytrade"
)

const engineStateKey = "copytrade/engine_state"

// StateStore 用 Badger 保存引擎的水位线与日计数器快照。
// 和 SQLite 复制日志分开存：快照写入频繁且整体覆盖，
// KV 存储比关系表更合适。
type StateStore struct {
	db *badger.DB
}

func OpenStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "创建状态目录失败")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "打开 badger 失败")
	}
	return &StateStore{db: db}, nil
}

func (s *StateStore) Close() error {
	return s.db.Close()
}

func (s *StateStore) SaveEngineState(state *copytrade.EngineState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "序列化引擎状态失败")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(engineStateKey), data)
	})
}

func (s *StateStore) LoadEngineState() (*copytrade.EngineState, bool, error) {
	var state copytrade.EngineState
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(engineStateKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &state); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &state, true, nil
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerOptions 打开 badger 账本的参数
type BadgerOptions struct {
	Path          string
	InMemory      bool
	EncryptionKey []byte // 32 字节；为空则不加密
}

// BadgerStore 嵌入式 KV：一个 universe 一个 key，冲突时重试事务
type BadgerStore struct {
	universe string
	key      []byte
	db       *badger.DB
}

const badgerMaxRetries = 16

func OpenBadgerStore(opts BadgerOptions, universe string) (*BadgerStore, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("ledger: badger path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if len(opts.EncryptionKey) > 0 {
		// 加密需要 index cache
		bopts = bopts.WithEncryptionKey(opts.EncryptionKey).WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger ledger: %w", err)
	}
	return &BadgerStore{
		universe: universe,
		key:      []byte("ledger/" + universe),
		db:       db,
	}, nil
}

func (s *BadgerStore) read(txn *badger.Txn) (*State, error) {
	item, err := txn.Get(s.key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return newState(s.universe), nil
		}
		return nil, err
	}
	st := &State{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, st)
	}); err != nil {
		return nil, err
	}
	return st.normalize(s.universe), nil
}

func (s *BadgerStore) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st *State
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		st, err = s.read(txn)
		return err
	})
	return st, err
}

func (s *BadgerStore) Update(ctx context.Context, fn func(*State) error) (*State, error) {
	for attempt := 0; attempt < badgerMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var st *State
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			st, err = s.read(txn)
			if err != nil {
				return err
			}
			if err := fn(st); err != nil {
				return err
			}
			st.LastUpdate = time.Now().UTC()
			b, err := json.Marshal(st)
			if err != nil {
				return err
			}
			return txn.Set(s.key, b)
		})
		switch {
		case err == nil:
			return st, nil
		case errors.Is(err, ErrSkipWrite):
			return st, nil
		case errors.Is(err, badger.ErrConflict):
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("ledger: badger update conflict after %d retries", badgerMaxRetries)
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

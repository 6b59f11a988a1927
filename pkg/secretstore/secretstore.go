package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// DefaultPrefix 钱包 / API 凭证在库里的 key 前缀
const DefaultPrefix = "env/"

var ErrNotOpened = errors.New("secretstore: not opened")

// Store 静态加密的密钥库（badger 负责加密：value log + key registry）
type Store struct {
	db     *badger.DB
	prefix string
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 字节，必填
	ReadOnly      bool
	Prefix        string // 为空用 DefaultPrefix
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	if len(opts.EncryptionKey) != 32 {
		return nil, errors.New("secretstore: 32-byte encryption key is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly).
		WithEncryptionKey(opts.EncryptionKey).
		WithIndexCacheSize(16 << 20)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open %s: %w", opts.Path, err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{db: db, prefix: prefix}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) key(name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("secretstore: key is empty")
	}
	return []byte(s.prefix + name), nil
}

// Get 不存在时 ok=false
func (s *Store) Get(name string) (val string, ok bool, err error) {
	if s == nil || s.db == nil {
		return "", false, ErrNotOpened
	}
	k, err := s.key(name)
	if err != nil {
		return "", false, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(b []byte) error {
			val = string(b)
			return nil
		})
	})
	return val, ok, err
}

func (s *Store) Set(name, val string) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	k, err := s.key(name)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

// SetAll 一个事务写入多项
func (s *Store) SetAll(kv map[string]string) error {
	if s == nil || s.db == nil {
		return ErrNotOpened
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for name, v := range kv {
			k, err := s.key(name)
			if err != nil {
				return err
			}
			if err := txn.Set(k, []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Names 库里所有 key（去掉前缀，排序）
func (s *Store) Names() ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpened
	}
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(s.prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), s.prefix))
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

// ParseKey 接受 hex（可带 0x）或 base64 的 32 字节 key；空串返回 nil
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	return b, nil
}

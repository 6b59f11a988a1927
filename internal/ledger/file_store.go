package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/betbot/pairbot/pkg/persistence"
)

// FileStore JSON 文件 + flock，多进程共享同一个文件
type FileStore struct {
	universe string
	store    *persistence.JSONFileStore
}

func NewFileStore(dir, universe string) *FileStore {
	svc := persistence.NewJSONFileService(dir)
	return &FileStore{
		universe: universe,
		store:    svc.NewStore("ledger", universe, "state"),
	}
}

// Path 账本文件路径
func (s *FileStore) Path() string { return s.store.Path() }

func (s *FileStore) load() (*State, error) {
	st := &State{}
	if err := s.store.Load(st); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return newState(s.universe), nil
		}
		return nil, err
	}
	return st.normalize(s.universe), nil
}

func (s *FileStore) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st *State
	err := s.store.WithLock(func() error {
		var err error
		st, err = s.load()
		return err
	})
	return st, err
}

func (s *FileStore) Update(ctx context.Context, fn func(*State) error) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st *State
	err := s.store.WithLock(func() error {
		var err error
		st, err = s.load()
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		st.LastUpdate = time.Now().UTC()
		return s.store.Save(st)
	})
	if errors.Is(err, ErrSkipWrite) {
		return st, nil
	}
	return st, err
}

func (s *FileStore) Close() error { return nil }

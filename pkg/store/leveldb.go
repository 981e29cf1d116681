package store

import (
	"context"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is a persistent Store backed by a local LevelDB directory.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	value, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Put writes synchronously so balances survive a crash.
func (l *LevelDB) Put(_ context.Context, key string, value []byte) error {
	return l.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Delete(_ context.Context, key string) error {
	return l.db.Delete([]byte(key), &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

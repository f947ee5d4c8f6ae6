package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"microratchet/internal/domain"
)

const levelKeyPrefix = "session/"

// LevelDB keeps many sessions in one database, one key per session name.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Session returns the storage for one named session.
func (l *LevelDB) Session(name string) *LevelSession {
	return &LevelSession{db: l.db, key: []byte(levelKeyPrefix + name)}
}

// Names lists the stored session names.
func (l *LevelDB) Names() ([]string, error) {
	it := l.db.NewIterator(nil, nil)
	defer it.Release()
	var names []string
	for it.Next() {
		k := string(it.Key())
		if len(k) > len(levelKeyPrefix) && k[:len(levelKeyPrefix)] == levelKeyPrefix {
			names = append(names, k[len(levelKeyPrefix):])
		}
	}
	return names, it.Error()
}

// Close closes the database.
func (l *LevelDB) Close() error { return l.db.Close() }

// LevelSession is the domain.Storage view of one key.
type LevelSession struct {
	db  *leveldb.DB
	key []byte
}

// Load returns the stored bytes, or nil when the key is absent.
func (s *LevelSession) Load() ([]byte, error) {
	b, err := s.db.Get(s.key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// Store writes state synchronously.
func (s *LevelSession) Store(state []byte) error {
	return s.db.Put(s.key, state, &opt.WriteOptions{Sync: true})
}

// Delete removes the session.
func (s *LevelSession) Delete() error {
	return s.db.Delete(s.key, &opt.WriteOptions{Sync: true})
}

// Compile-time assertion that LevelSession implements domain.Storage.
var _ domain.Storage = (*LevelSession)(nil)

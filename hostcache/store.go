// Copyright (c) 2015-2024 The Decred developers
// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hostcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mvsnet/p2pd/netaddr"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is the persistence collaborator of the cache.  Load is called once
// when the cache starts and Save whenever it flushes.
type Store interface {
	Load() ([]netaddr.Address, error)
	Save(addrs []netaddr.Address) error
}

// addrKeyPrefix is the prefix of every key that holds an address.  The rest of
// the key is the endpoint in host:port form.
var addrKeyPrefix = []byte("addr:")

// LevelDBStore implements Store on top of a leveldb database.  Each address is
// kept under its own key so that saves only rewrite what changed.
type LevelDBStore struct {
	db *leveldb.DB
}

// Ensure LevelDBStore implements the Store interface.
var _ Store = (*LevelDBStore)(nil)

// convertLdbErr converts the passed leveldb error into an Error with an
// equivalent error kind and the passed description.
func convertLdbErr(ldbErr error, kind ErrorKind, desc string) Error {
	switch {
	case ldberrors.IsCorrupted(ldbErr):
		kind = ErrStoreCorruption
	case errors.Is(ldbErr, leveldb.ErrClosed):
		kind = ErrStoreNotOpen
	}
	return makeError(kind, fmt.Sprintf("%s: %v", desc, ldbErr))
}

// OpenLevelDB opens, creating it when needed, the leveldb database at the
// provided path.  A corrupted database is recovered rather than discarded.
func OpenLevelDB(dbPath string) (*LevelDBStore, error) {
	// The error can be ignored here since the call to leveldb.OpenFile will
	// fail if the directory couldn't be created.
	_ = os.MkdirAll(filepath.Dir(dbPath), 0700)

	log.Infof("Loading host cache from '%s'", dbPath)
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if ldberrors.IsCorrupted(err) {
		log.Warnf("Host cache database is corrupted, attempting recovery: %v",
			err)
		db, err = leveldb.RecoverFile(dbPath, &opts)
	}
	if err != nil {
		return nil, convertLdbErr(err, ErrLoadFailed,
			"failed to open host cache database")
	}
	return &LevelDBStore{db: db}, nil
}

// NewMemoryStore returns a store backed by an in-memory leveldb database.  It
// is primarily useful for testing.
func NewMemoryStore() (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, convertLdbErr(err, ErrLoadFailed,
			"failed to open memory database")
	}
	return &LevelDBStore{db: db}, nil
}

// Load returns all addresses in the database.  Entries that fail to decode are
// skipped.
func (s *LevelDBStore) Load() ([]netaddr.Address, error) {
	iter := s.db.NewIterator(util.BytesPrefix(addrKeyPrefix), nil)
	defer iter.Release()

	var addrs []netaddr.Address
	for iter.Next() {
		var addr netaddr.Address
		if err := json.Unmarshal(iter.Value(), &addr); err != nil {
			log.Warnf("Skipping malformed host cache entry %q: %v",
				iter.Key(), err)
			continue
		}
		addrs = append(addrs, addr)
	}
	if err := iter.Error(); err != nil {
		return nil, convertLdbErr(err, ErrLoadFailed,
			"failed to iterate host cache database")
	}
	return addrs, nil
}

// Save replaces the contents of the database with the provided addresses in a
// single synced batch.
func (s *LevelDBStore) Save(addrs []netaddr.Address) error {
	keep := make(map[string]struct{}, len(addrs))
	batch := new(leveldb.Batch)
	for _, addr := range addrs {
		value, err := json.Marshal(addr)
		if err != nil {
			return makeError(ErrFlushFailed, err.Error())
		}
		key := append(append([]byte{}, addrKeyPrefix...), addr.Key()...)
		keep[string(key)] = struct{}{}
		batch.Put(key, value)
	}

	// Remove entries that are no longer present.
	iter := s.db.NewIterator(util.BytesPrefix(addrKeyPrefix), nil)
	for iter.Next() {
		if _, ok := keep[string(iter.Key())]; !ok {
			batch.Delete(append([]byte{}, iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return convertLdbErr(err, ErrFlushFailed,
			"failed to iterate host cache database")
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return convertLdbErr(err, ErrFlushFailed,
			"failed to write host cache database")
	}
	return nil
}

// Close closes the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

package reconcile

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vinchx/chitchat/pkg/model"
)

// Cache stores the last known snapshot of a room so the client can redraw it
// before the network answers. It is a display hint only.
type Cache interface {
	Load(roomID string) ([]model.Message, error)
	Save(roomID string, msgs []model.Message) error
}

const (
	DefaultCacheLimit = 200
	DefaultCacheTTL   = 7 * 24 * time.Hour
)

type BadgerCache struct {
	db    *badger.DB
	limit int
	ttl   time.Duration
}

var _ Cache = (*BadgerCache)(nil)

// OpenBadgerCache opens (or creates) a cache directory. An empty dir opens an
// in-memory store.
func OpenBadgerCache(dir string, limit int) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	return &BadgerCache{db: db, limit: limit, ttl: DefaultCacheTTL}, nil
}

func cacheKey(roomID string) []byte {
	return []byte("room:" + roomID + ":snapshot")
}

// Save keeps the newest limit messages of msgs.
func (c *BadgerCache) Save(roomID string, msgs []model.Message) error {
	if len(msgs) > c.limit {
		msgs = msgs[len(msgs)-c.limit:]
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(cacheKey(roomID), raw).WithTTL(c.ttl))
	})
}

// Load returns nil without error when nothing is cached for the room.
func (c *BadgerCache) Load(roomID string) ([]model.Message, error) {
	var msgs []model.Message
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msgs)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return msgs, err
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

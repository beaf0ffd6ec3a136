// Package backend opens the storage, registry and event bus shared by the
// api and messaging processes.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vinchx/chitchat/pkg/attachments"
	"github.com/vinchx/chitchat/pkg/bus"
	"github.com/vinchx/chitchat/pkg/chat"
	"github.com/vinchx/chitchat/pkg/config"
	"github.com/vinchx/chitchat/pkg/db"
	"github.com/vinchx/chitchat/pkg/hub"
	"github.com/vinchx/chitchat/pkg/presence"
	"github.com/vinchx/chitchat/pkg/rooms"
	"github.com/vinchx/chitchat/pkg/store"
	"github.com/vinchx/chitchat/pkg/store/memory"
	"github.com/vinchx/chitchat/pkg/store/scylla"
	"go.uber.org/zap"
)

const (
	DriverMemory = "memory"
	DriverScylla = "scylla"
)

type Config struct {
	StoreDriver       string        `env:"STORE_DRIVER,default=scylla"`
	ScyllaHosts       string        `env:"SCYLLA_HOSTS,default=localhost:9042"`
	Keyspace          string        `env:"SCYLLA_KEYSPACE,default=chat"`
	Consistency       string        `env:"SCYLLA_CONSISTENCY,default=QUORUM"`
	NodeID            int           `env:"NODE_ID,default=1"`
	DeleteWindow      time.Duration `env:"DELETE_WINDOW,default=1h"`
	EditWindow        time.Duration `env:"EDIT_WINDOW,default=0s"`
	RedisAddr         string        `env:"REDIS_ADDR,default=localhost:6379"`
	RoomCacheTTL      time.Duration `env:"ROOM_CACHE_TTL,default=15s"`
	RoomsFile         string        `env:"ROOMS_FILE"`
	KafkaBrokers      string        `env:"KAFKA_BROKERS"`
	KafkaTopic        string        `env:"KAFKA_TOPIC,default=chat-events"`
	PublishTimeout    time.Duration `env:"PUBLISH_TIMEOUT,default=5s"`
	AttachmentHosts   string        `env:"ATTACHMENT_HOSTS"`
	AttachmentMaxSize int           `env:"ATTACHMENT_MAX_SIZE,default=26214400"`
}

// Backend holds the opened dependencies. Kafka is nil when KAFKA_BROKERS is
// empty, in which case Bus is an in-process bus.
type Backend struct {
	Messages store.MessageStore
	Receipts store.ReceiptStore
	Rooms    rooms.Registry
	Redis    *redis.Client
	Bus      bus.Publisher
	Local    *bus.Local
	Kafka    *bus.Kafka
	Session  *db.Session

	cfg Config
	log *zap.Logger
}

func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Backend, error) {
	b := &Backend{cfg: cfg, log: log}
	opts := store.Options{
		DeleteWindow: cfg.DeleteWindow,
		EditWindow:   cfg.EditWindow,
		NodeID:       int64(cfg.NodeID),
	}

	var registry rooms.Registry
	switch cfg.StoreDriver {
	case DriverMemory:
		s, err := memory.New(opts)
		if err != nil {
			return nil, err
		}
		b.Messages, b.Receipts = s, s
		seed, err := LoadRooms(cfg.RoomsFile)
		if err != nil {
			return nil, err
		}
		registry = rooms.NewMemory(seed...)
	case DriverScylla:
		session, err := db.Connect(config.List(cfg.ScyllaHosts), cfg.Keyspace, db.Options{Consistency: cfg.Consistency}, log)
		if err != nil {
			return nil, fmt.Errorf("connect scylla: %w", err)
		}
		b.Session = session
		s, err := scylla.New(session, opts, log)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Messages, b.Receipts = s, s
		registry = rooms.NewScylla(session)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	b.Rooms = registry
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, presence and room cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rdb.Close()
		} else {
			b.Redis = rdb
			b.Rooms = rooms.NewCached(registry, rdb, cfg.RoomCacheTTL, log)
		}
	}

	if brokers := config.List(cfg.KafkaBrokers); len(brokers) > 0 {
		b.Kafka = bus.NewKafka(brokers, cfg.KafkaTopic, log)
		b.Bus = b.Kafka
	} else {
		log.Info("KAFKA_BROKERS not set, using in-process bus")
		b.Local = bus.NewLocal()
		b.Bus = b.Local
	}
	return b, nil
}

// Service builds the chat service over the opened dependencies.
func (b *Backend) Service() *chat.Service {
	return chat.NewService(chat.Config{
		Messages:       b.Messages,
		Receipts:       b.Receipts,
		Rooms:          b.Rooms,
		Bus:            b.Bus,
		Attachments:    attachments.NewResolver(config.List(b.cfg.AttachmentHosts), int64(b.cfg.AttachmentMaxSize)),
		PublishTimeout: b.cfg.PublishTimeout,
		Logger:         b.log,
	})
}

// Hub builds a fan-out hub, mirroring presence to Redis when it is up.
func (b *Backend) Hub(typingTTL time.Duration, log *zap.Logger) *hub.Hub {
	opts := hub.Options{TypingTTL: typingTTL}
	if b.Redis != nil {
		opts.Presence = presence.NewRedis(b.Redis)
	}
	return hub.New(opts, log)
}

// RequireShared fails unless messages and events are visible to other
// processes. The gateway and messaging processes cannot work without it.
func (b *Backend) RequireShared() error {
	if b.Kafka == nil {
		return errors.New("KAFKA_BROKERS is not set: run apps/api alone for single-process mode")
	}
	if b.cfg.StoreDriver == DriverMemory {
		return errors.New("STORE_DRIVER=memory is private to one process: use scylla with KAFKA_BROKERS")
	}
	return nil
}

func (b *Backend) Close() {
	if b.Kafka != nil {
		if err := b.Kafka.Close(); err != nil {
			b.log.Warn("close kafka writer", zap.Error(err))
		}
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Session != nil {
		b.Session.Close()
	}
}

// LoadRooms reads a JSON array of rooms. An empty path yields no rooms.
func LoadRooms(path string) ([]rooms.Room, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("rooms file %s not found", path)
	}
	if err != nil {
		return nil, err
	}
	var out []rooms.Room
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}
	return out, nil
}

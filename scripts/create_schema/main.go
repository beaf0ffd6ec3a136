package main

import (
	"context"
	"flag"
	"log"

	"github.com/vinchx/chitchat/pkg/backend"
	"github.com/vinchx/chitchat/pkg/config"
	"github.com/vinchx/chitchat/pkg/db"
	"github.com/vinchx/chitchat/pkg/logging"
	"github.com/vinchx/chitchat/pkg/rooms"
	"go.uber.org/zap"
)

func main() {
	hosts := flag.String("hosts", "localhost:9042", "comma separated scylla hosts")
	keyspace := flag.String("keyspace", "chat", "keyspace to create")
	replication := flag.Int("rf", 1, "replication factor")
	roomsFile := flag.String("rooms", "", "JSON file of rooms to seed")
	flag.Parse()

	logger, err := logging.New("info")
	if err != nil {
		log.Fatal(err)
	}

	// Connect to system keyspace to create the chat keyspace
	sys, err := db.NewSession(config.List(*hosts), "system", logger)
	if err != nil {
		logger.Fatal("Failed to connect to ScyllaDB system keyspace", zap.Error(err))
	}
	if err := db.CreateKeyspace(sys, *keyspace, *replication); err != nil {
		logger.Fatal("Failed to create keyspace", zap.Error(err))
	}
	sys.Close()

	session, err := db.NewSession(config.List(*hosts), *keyspace, logger)
	if err != nil {
		logger.Fatal("Failed to connect to ScyllaDB", zap.Error(err))
	}
	defer session.Close()

	if err := db.EnsureSchema(session, logger); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}

	seed, err := backend.LoadRooms(*roomsFile)
	if err != nil {
		logger.Fatal("Failed to read rooms", zap.Error(err))
	}
	registry := rooms.NewScylla(session)
	for _, r := range seed {
		if err := registry.Put(context.Background(), r); err != nil {
			logger.Fatal("Failed to seed room", zap.String("room", r.ID), zap.Error(err))
		}
		logger.Info("Room seeded", zap.String("room", r.ID), zap.Strings("members", r.Members))
	}
}

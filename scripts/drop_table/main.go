package main

import (
	"flag"
	"log"

	"github.com/vinchx/chitchat/pkg/config"
	"github.com/vinchx/chitchat/pkg/db"
	"github.com/vinchx/chitchat/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	hosts := flag.String("hosts", "localhost:9042", "comma separated scylla hosts")
	keyspace := flag.String("keyspace", "chat", "keyspace holding the tables")
	flag.Parse()

	logger, err := logging.New("info")
	if err != nil {
		log.Fatal(err)
	}

	session, err := db.NewSession(config.List(*hosts), *keyspace, logger)
	if err != nil {
		logger.Fatal("Failed to connect to ScyllaDB", zap.Error(err))
	}
	defer session.Close()

	logger.Info("Dropping tables...")
	if err := db.DropSchema(session, logger); err != nil {
		logger.Fatal("Failed to drop tables", zap.Error(err))
	}
	logger.Info("Tables dropped successfully.")
}

package main

import "time"

type Config struct {
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	ConsumerGroup   string        `env:"CONSUMER_GROUP,default=messaging-service-group"`
	AIEndpoint      string        `env:"AI_ENDPOINT,default=http://localhost:8090/generate"`
	AIKey           string        `env:"AI_API_KEY"`
	AIPrefix        string        `env:"AI_COMMAND_PREFIX"`
	AIWorkers       int           `env:"AI_WORKERS,default=4"`
	AIQueueSize     int           `env:"AI_QUEUE_SIZE,default=64"`
	AIHistory       int           `env:"AI_HISTORY,default=20"`
	AITimeout       time.Duration `env:"AI_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

package main

import "time"

type Config struct {
	Addr            string        `env:"API_ADDR,default=:8081"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	JWTSecret       string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	TokenTTL        time.Duration `env:"TOKEN_TTL,default=24h"`
	ReceiptInterval time.Duration `env:"RECEIPT_INTERVAL,default=2s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	// InlineResponder runs the AI responder inside the api process instead
	// of apps/messaging.
	InlineResponder bool          `env:"AI_INLINE,default=false"`
	AIEndpoint      string        `env:"AI_ENDPOINT,default=http://localhost:8090/generate"`
	AIKey           string        `env:"AI_API_KEY"`
	AIPrefix        string        `env:"AI_COMMAND_PREFIX"`
	AIWorkers       int           `env:"AI_WORKERS,default=4"`
	AIQueueSize     int           `env:"AI_QUEUE_SIZE,default=64"`
	AIHistory       int           `env:"AI_HISTORY,default=20"`
	AITimeout       time.Duration `env:"AI_TIMEOUT,default=30s"`

	// Websocket settings, used when no broker is configured and the api
	// serves /ws itself.
	TypingTTL          time.Duration `env:"TYPING_TTL,default=3s"`
	SendBuffer         int           `env:"SEND_BUFFER,default=256"`
	FrameRate          float64       `env:"FRAME_RATE,default=10"`
	FrameBurst         int           `env:"FRAME_BURST,default=20"`
	MembershipInterval time.Duration `env:"MEMBERSHIP_INTERVAL,default=30s"`
}

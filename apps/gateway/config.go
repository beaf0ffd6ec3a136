package main

import "time"

type Config struct {
	Addr            string        `env:"GATEWAY_ADDR,default=:8080"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	JWTSecret       string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	TypingTTL       time.Duration `env:"TYPING_TTL,default=3s"`
	SendBuffer      int           `env:"SEND_BUFFER,default=256"`
	FrameRate       float64       `env:"FRAME_RATE,default=10"`
	FrameBurst      int           `env:"FRAME_BURST,default=20"`
	ConsumerPrefix  string        `env:"CONSUMER_GROUP_PREFIX,default=gateway"`
	ReceiptInterval time.Duration `env:"RECEIPT_INTERVAL,default=2s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	// MembershipInterval is how often open sockets re-check room membership.
	MembershipInterval time.Duration `env:"MEMBERSHIP_INTERVAL,default=30s"`
}

package main

import (
	"context"

	"github.com/vinchx/chitchat/pkg/model"
	"go.uber.org/zap"
)

// Observer receives persisted messages.
type Observer interface {
	Observe(m model.Message)
}

// Consumer feeds message.created events from the bus to the responder.
// Everything else on the topic is ignored.
type Consumer struct {
	observer Observer
	log      *zap.Logger
}

func NewConsumer(observer Observer, log *zap.Logger) *Consumer {
	return &Consumer{observer: observer, log: log}
}

func (c *Consumer) Publish(_ context.Context, ev model.Event) error {
	if ev.Type != model.EventMessageCreated || ev.Message == nil {
		return nil
	}
	c.log.Debug("Received message", zap.String("room", ev.RoomID), zap.String("message", ev.MessageID))
	c.observer.Observe(*ev.Message)
	return nil
}

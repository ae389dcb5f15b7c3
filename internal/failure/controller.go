package failure

import (
	"context"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/core/service"
	"github.com/ManyThreads/horme/internal/bus"
	"github.com/rs/zerolog/log"
)

const queueSize = 64

// Controller relays failure reports from the bus to a Handler. Reports are handled one at a
// time, in arrival order, on a single worker goroutine. Bus callbacks never wait on the worker.
type Controller struct {
	bus     bus.Bus
	handler Handler
	topics  []string
	queue   chan messages.FailureMessage
}

func NewController(b bus.Bus, handler Handler, apartment string, rooms []string) *Controller {
	return &Controller{
		bus:     b,
		handler: handler,
		topics:  service.FailureTopics(apartment, rooms),
		queue:   make(chan messages.FailureMessage, queueSize),
	}
}

// Start subscribes to the failure topics and handles reports until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	go c.run(ctx)

	err := c.bus.Subscribe(ctx, c.topics, func(topic string, payload []byte) {
		msg, ok := c.parse(topic, payload)
		if !ok {
			return
		}
		select {
		case c.queue <- msg:
		default:
			log.Warn().Str("uuid", msg.UUID).Msg("failure queue full, dropping report")
		}
	})
	if err != nil {
		return err
	}
	log.Info().Strs("topics", c.topics).Msg("listening for failure reports")
	return nil
}

func (c *Controller) run(ctx context.Context) {
	for {
		select {
		case msg := <-c.queue:
			c.dispatch(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) parse(topic string, payload []byte) (messages.FailureMessage, bool) {
	msg, err := messages.ParseFailure(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("dropping malformed failure message")
		return messages.FailureMessage{}, false
	}
	log.Debug().Str("topic", topic).Str("uuid", msg.UUID).Str("reason", msg.Reason).Msg("received failure report")
	return msg, true
}

func (c *Controller) dispatch(ctx context.Context, msg messages.FailureMessage) {
	if err := c.handler.Handle(ctx, msg); err != nil {
		log.Error().Err(err).Str("uuid", msg.UUID).Str("reason", msg.Reason).Msg("unable to handle failure")
	}
}

package bus

import (
	"context"
	"errors"
	"strings"
)

var ErrClosed = errors.New("bus closed")

// Handler consumes a message delivered on topic.
type Handler func(topic string, payload []byte)

// Bus is the publish/subscribe transport between the controller and the services.
type Bus interface {
	// Publish sends payload to topic. Retained messages are kept by the broker and delivered to
	// later subscribers.
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	// Subscribe registers handler for every topic filter, which may contain MQTT wildcards.
	Subscribe(ctx context.Context, filters []string, handler Handler) error
	Close() error
}

// TopicMatches reports whether topic matches the MQTT topic filter, honouring the single level
// (+) and multi level (#) wildcards.
func TopicMatches(filter, topic string) bool {
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	for i, f := range fparts {
		if f == "#" {
			return i == len(fparts)-1
		}
		if i >= len(tparts) {
			return false
		}
		if f != "+" && f != tparts[i] {
			return false
		}
	}
	return len(fparts) == len(tparts)
}

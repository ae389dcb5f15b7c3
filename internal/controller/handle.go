package controller

import (
	"slices"
	"time"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/core/service"
	"github.com/ManyThreads/horme/internal/process"
)

// NeverPublished marks a handle whose configuration has not been published yet, forcing the
// first configuration pass to publish.
const NeverPublished = -1

// ServiceHandle is the live state the controller keeps for a started service.
type ServiceHandle struct {
	Info service.Info `json:"info"`
	// Process is nil while no backing process runs.
	Process *process.Handle `json:"process,omitempty"`
	// Depends are the subscriptions the service was last configured with. Edges are keyed by
	// uuid and resolved through the controller's handle map.
	Depends          []messages.Subscription `json:"depends"`
	PublishedVersion int                     `json:"published_version"`
	LastUpdate       time.Time               `json:"last_update"`
}

func (h *ServiceHandle) clone() *ServiceHandle {
	c := *h
	c.Depends = slices.Clone(h.Depends)
	if h.Process != nil {
		proc := *h.Process
		c.Process = &proc
	}
	return &c
}

// DependsOn returns the uuids of the services this one is subscribed to.
func (h *ServiceHandle) DependsOn() []service.UUID {
	res := make([]service.UUID, 0, len(h.Depends))
	for _, dep := range h.Depends {
		res = append(res, dep.UUID)
	}
	return res
}

func (h *ServiceHandle) subscription() messages.Subscription {
	return messages.Subscription{
		UUID:  h.Info.UUID,
		Topic: h.Info.Topic,
		Type:  h.Info.Type,
	}
}

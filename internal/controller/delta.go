package controller

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/core/service"
	"github.com/rs/zerolog/log"
)

type delta struct {
	// depends is the new dependency list: retained edges followed by added ones.
	depends []messages.Subscription
	add     []messages.Subscription
	del     []messages.Subscription
	// missing lists target uuids without a live handle.
	missing []service.UUID
}

func (d *delta) empty() bool {
	return len(d.add) == 0 && len(d.del) == 0
}

// computeDelta moves current to the target uuid list. lookup resolves the live subscription of
// a dependency. Add and del never share a subscription, but a dependency whose topic changed is
// deleted under its old topic and added under the new one.
func computeDelta(current []messages.Subscription, target []service.UUID, lookup func(service.UUID) (messages.Subscription, bool)) *delta {
	d := &delta{
		depends: make([]messages.Subscription, 0, len(target)),
		add:     make([]messages.Subscription, 0),
		del:     make([]messages.Subscription, 0),
	}

	for _, prev := range current {
		if !slices.Contains(target, prev.UUID) {
			d.del = append(d.del, prev)
			continue
		}
		// A dependency that moved is resubscribed under its new topic.
		if live, ok := lookup(prev.UUID); ok && live != prev {
			d.del = append(d.del, prev)
			d.add = append(d.add, live)
			d.depends = append(d.depends, live)
			continue
		}
		d.depends = append(d.depends, prev)
	}

	seen := make(map[service.UUID]bool, len(target))
	for _, uuid := range target {
		if seen[uuid] {
			continue
		}
		seen[uuid] = true
		if slices.ContainsFunc(current, func(s messages.Subscription) bool { return s.UUID == uuid }) {
			continue
		}
		sub, ok := lookup(uuid)
		if !ok {
			d.missing = append(d.missing, uuid)
			continue
		}
		d.add = append(d.add, sub)
		d.depends = append(d.depends, sub)
	}
	return d
}

// configureLocked publishes the dependency delta of h if anything changed. The new dependency
// list and published version are only committed once the publish went through, so a failed
// publish is repeated by the next pass.
func (c *Controller) configureLocked(ctx context.Context, h *ServiceHandle, target []service.UUID, init bool) error {
	d := computeDelta(h.Depends, target, c.subscriptionOf)
	for _, uuid := range d.missing {
		log.Warn().Str("uuid", h.Info.UUID).Msgf("dependency %s has no running service, skipping", uuid)
	}

	if !init && d.empty() && h.PublishedVersion == h.Info.Version {
		log.Trace().Str("uuid", h.Info.UUID).Msg("configuration unchanged")
		return nil
	}

	msg := messages.ConfigMessage{
		Info: h.Info,
		Add:  d.add,
		Del:  d.del,
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		return err
	}
	topic := service.ConfigTopic(h.Info.Topic)
	if err := c.bus.Publish(ctx, topic, payload, true); err != nil {
		return err
	}

	h.Depends = d.depends
	h.PublishedVersion = h.Info.Version
	log.Debug().Str("topic", topic).RawJSON("payload", payload).Msg("config message sent")
	return nil
}

func (c *Controller) subscriptionOf(uuid service.UUID) (messages.Subscription, bool) {
	h, ok := c.handles[uuid]
	if !ok {
		return messages.Subscription{}, false
	}
	return h.subscription(), true
}

package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ManyThreads/horme/core/service"
	"github.com/rs/zerolog/log"
)

var ErrDependencyCycle = errors.New("dependency cycle")

// RemoveService permanently removes the service. Every dependent gets a replacement of the
// same type in the same room if one is available, and the live system is then reconciled with
// the updated topology.
func (c *Controller) RemoveService(ctx context.Context, uuid service.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.storage.QueryServices(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(entries, func(e *service.ServiceEntry) bool { return e.UUID == uuid })
	if idx >= 0 {
		removed := entries[idx]
		remaining := slices.Delete(slices.Clone(entries), idx, idx+1)
		if err := c.rewireDependents(ctx, removed, remaining); err != nil {
			return err
		}
		if err := c.storage.RemoveService(ctx, uuid); err != nil {
			return err
		}
		log.Info().Str("uuid", uuid).Str("type", removed.Type).Msg("removed service")
	}

	return c.reconcileLocked(ctx, false)
}

// rewireDependents replaces removed in the dependency list of every remaining entry and
// persists the changed entries.
func (c *Controller) rewireDependents(ctx context.Context, removed *service.ServiceEntry, remaining []*service.ServiceEntry) error {
	for _, dependent := range remaining {
		if !dependent.DependsOnService(removed.UUID) {
			continue
		}

		replacement := selectReplacement(removed, dependent, remaining)
		deps := make([]service.UUID, 0, len(dependent.DependsOn))
		for _, dep := range dependent.DependsOn {
			if dep != removed.UUID {
				deps = append(deps, dep)
			} else if replacement != "" {
				deps = append(deps, replacement)
			}
		}
		dependent.DependsOn = deps

		if replacement != "" {
			log.Info().Str("uuid", dependent.UUID).Msgf("replacing dependency %s with %s", removed.UUID, replacement)
		} else {
			log.Warn().Str("uuid", dependent.UUID).Msgf("no replacement for dependency %s", removed.UUID)
		}
		if err := c.storage.UpdateService(ctx, dependent); err != nil {
			return err
		}
	}
	return nil
}

// selectReplacement picks another service of the removed one's type in the same room that the
// dependent does not use yet. Candidates that would close a dependency cycle are skipped.
func selectReplacement(removed, dependent *service.ServiceEntry, entries []*service.ServiceEntry) service.UUID {
	for _, candidate := range entries {
		if candidate.UUID == dependent.UUID || candidate.Type != removed.Type || candidate.Room != removed.Room {
			continue
		}
		if dependent.DependsOnService(candidate.UUID) {
			continue
		}
		if reaches(entries, candidate.UUID, dependent.UUID) {
			continue
		}
		return candidate.UUID
	}
	return ""
}

// reaches reports whether to is reachable from from along dependency edges.
func reaches(entries []*service.ServiceEntry, from, to service.UUID) bool {
	byUUID := make(map[service.UUID]*service.ServiceEntry, len(entries))
	for _, e := range entries {
		byUUID[e.UUID] = e
	}
	visited := make(map[service.UUID]bool)
	stack := []service.UUID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if e, ok := byUUID[cur]; ok {
			stack = append(stack, e.DependsOn...)
		}
	}
	return false
}

// Reconcile brings the live services in line with the persisted topology. Services that are no
// longer persisted, or whose identity changed, are torn down before anything is started.
// Dependencies are started and configured before their dependents. Failures of single services
// are logged and do not abort the pass. With init set, every service is sent its configuration
// even if nothing changed.
func (c *Controller) Reconcile(ctx context.Context, init bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcileLocked(ctx, init)
}

func (c *Controller) reconcileLocked(ctx context.Context, init bool) error {
	entries, err := c.storage.QueryServices(ctx)
	if err != nil {
		return err
	}
	ordered, err := dependencyOrder(entries)
	if err != nil {
		return err
	}

	target := make(map[service.UUID]*service.ServiceEntry, len(ordered))
	for _, entry := range ordered {
		target[entry.UUID] = entry
	}

	for _, uuid := range c.sortedUUIDs() {
		h := c.handles[uuid]
		entry, ok := target[uuid]
		if ok && h.Info.Topic == service.BuildTopic(c.config.Apartment, entry) {
			continue
		}
		log.Info().Str("uuid", uuid).Str("topic", h.Info.Topic).Msg("tearing down service")
		if err := c.stopLocked(ctx, uuid); err != nil {
			log.Error().Err(err).Str("uuid", uuid).Msg("unable to stop service")
		}
		delete(c.handles, uuid)
	}
	c.forgetRemoved(target)

	for _, entry := range ordered {
		h, ok := c.handles[entry.UUID]
		if ok && h.Process != nil {
			running, _, err := c.processManager.IsRunning(ctx, h.Process.ID)
			if err != nil {
				log.Error().Err(err).Str("uuid", entry.UUID).Msg("unable to query process state")
			}
			if running || err != nil {
				if err := c.configureLocked(ctx, h, entry.DependsOn, init); err != nil {
					log.Error().Err(err).Str("uuid", entry.UUID).Msg("unable to publish service configuration")
				}
				continue
			}
			log.Warn().Str("uuid", entry.UUID).Msg("process of service is gone, starting it again")
		}

		if err := c.startLocked(ctx, entry, init); err != nil {
			log.Error().Err(err).Str("uuid", entry.UUID).Msg("unable to start service")
		}
	}
	return nil
}

// forgetRemoved drops the version counters of services that are no longer persisted and runs
// the removal hooks for them.
func (c *Controller) forgetRemoved(target map[service.UUID]*service.ServiceEntry) {
	removed := make([]service.UUID, 0)
	for uuid := range c.versions {
		if _, ok := target[uuid]; !ok {
			removed = append(removed, uuid)
		}
	}
	slices.Sort(removed)
	for _, uuid := range removed {
		delete(c.versions, uuid)
		for _, fn := range c.onRemoval {
			fn(uuid)
		}
	}
}

// dependencyOrder sorts entries so that every entry follows its dependencies. Dependencies on
// unknown uuids are ignored.
func dependencyOrder(entries []*service.ServiceEntry) ([]*service.ServiceEntry, error) {
	const (
		unvisited = iota
		visiting
		done
	)

	byUUID := make(map[service.UUID]*service.ServiceEntry, len(entries))
	for _, e := range entries {
		byUUID[e.UUID] = e
	}
	state := make(map[service.UUID]int, len(entries))
	res := make([]*service.ServiceEntry, 0, len(entries))

	var visit func(e *service.ServiceEntry) error
	visit = func(e *service.ServiceEntry) error {
		switch state[e.UUID] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: through %s", ErrDependencyCycle, e.UUID)
		}
		state[e.UUID] = visiting
		for _, dep := range e.DependsOn {
			d, ok := byUUID[dep]
			if !ok {
				log.Warn().Str("uuid", e.UUID).Msgf("dependency %s is not a known service", dep)
				continue
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		state[e.UUID] = done
		res = append(res, e)
		return nil
	}

	for _, e := range entries {
		if err := visit(e); err != nil {
			return nil, err
		}
	}
	return res, nil
}

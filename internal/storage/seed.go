package storage

import (
	"context"

	"github.com/ManyThreads/horme/core/service"
	"github.com/rs/zerolog/log"
)

// Seed populates an empty storage with the default bedroom deployment: two light switches and a
// ceiling lamp consuming both.
func Seed(ctx context.Context, s PersistentStorage) error {
	existing, err := s.QueryServices(ctx)
	if err != nil {
		return err
	}
	if len(existing) != 0 {
		log.Debug().Msgf("storage already holds %d services, skipping seed", len(existing))
		return nil
	}

	switch1, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "light-switch", Room: "bedroom"})
	if err != nil {
		return err
	}
	switch2, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "light-switch", Room: "bedroom"})
	if err != nil {
		return err
	}
	lamp, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "ceiling-lamp", Room: "bedroom"})
	if err != nil {
		return err
	}

	lamp.DependsOn = []service.UUID{switch1.UUID, switch2.UUID}
	if err := s.UpdateService(ctx, lamp); err != nil {
		return err
	}
	log.Info().Msg("seeded storage with default bedroom services")
	return nil
}

package storage

import (
	"context"
	"errors"

	"github.com/ManyThreads/horme/core/service"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrInvalidEntry    = errors.New("invalid service entry")
)

// PersistentStorage is the durable record of service entries. Mutating calls are atomic with
// respect to a single entry, and every returned entry is a copy the caller may freely modify.
type PersistentStorage interface {
	// CreateService assigns a uuid to the entry and stores it without dependencies.
	CreateService(context.Context, service.UnInitServiceEntry) (*service.ServiceEntry, error)
	UpdateService(context.Context, *service.ServiceEntry) error
	// RemoveService deletes the entry; removing an unknown uuid is not an error.
	RemoveService(context.Context, service.UUID) error
	QueryServices(context.Context) ([]*service.ServiceEntry, error)
	// QueryService returns false if no entry with the uuid exists.
	QueryService(context.Context, service.UUID) (*service.ServiceEntry, bool, error)
	QueryServicesInRoom(context.Context, string) ([]*service.ServiceEntry, error)
}

func validateEntry(entry *service.ServiceEntry) error {
	if entry == nil || entry.UUID == "" {
		return errors.Join(ErrInvalidEntry, errors.New("missing uuid"))
	}
	if entry.Type == "" {
		return errors.Join(ErrInvalidEntry, errors.New("missing type"))
	}
	for _, dep := range entry.DependsOn {
		if dep == entry.UUID {
			return errors.Join(ErrInvalidEntry, errors.New("service depends on itself"))
		}
	}
	return nil
}

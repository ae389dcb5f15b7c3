package controller

import (
	"time"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/core/service"
)

// Factory builds fresh handles for persisted entries.
type Factory struct {
	apartment string
	now       func() time.Time
}

func NewFactory(apartment string, now func() time.Time) *Factory {
	if now == nil {
		now = time.Now
	}
	return &Factory{
		apartment: apartment,
		now:       now,
	}
}

// CreateServiceHandle has no side effects. The returned handle has no dependencies, version 0
// and has never been published.
func (f *Factory) CreateServiceHandle(entry *service.ServiceEntry, topic string) *ServiceHandle {
	return &ServiceHandle{
		Info:             service.NewInfo(f.apartment, entry, topic),
		Depends:          []messages.Subscription{},
		PublishedVersion: NeverPublished,
		LastUpdate:       f.now(),
	}
}

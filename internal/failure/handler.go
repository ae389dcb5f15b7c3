package failure

//go:generate mockgen -source=handler.go -destination=mocks/mock_controller.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/core/service"
	"github.com/ManyThreads/horme/internal/controller"
	"github.com/rs/zerolog/log"
)

// Handler policies.
const (
	PolicyTimeSpan    = "timespan"
	PolicyReconfigure = "reconfigure"
)

const DefaultTimeSpan = 5 * time.Second

var ErrUnknownPolicy = errors.New("unknown failure policy")

// ServiceController is the part of the service controller failure handling acts through.
type ServiceController interface {
	GetHandle(uuid service.UUID) (*controller.ServiceHandle, bool)
	RestartService(ctx context.Context, uuid service.UUID) error
	RemoveService(ctx context.Context, uuid service.UUID) error
}

// Handler decides how the controller reacts to a reported failure.
type Handler interface {
	Handle(ctx context.Context, msg messages.FailureMessage) error
}

// NewHandler returns the handler implementing policy.
func NewHandler(policy string, ctrl ServiceController, timeSpan time.Duration) (Handler, error) {
	switch policy {
	case PolicyTimeSpan, "":
		return NewTimeSpanHandler(ctrl, timeSpan), nil
	case PolicyReconfigure:
		return NewReconfigureHandler(ctrl), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, policy)
	}
}

// TimeSpanHandler restarts services that fail shortly after their last (re)start, assuming a
// bad spawn, and removes services failing later on.
type TimeSpanHandler struct {
	controller ServiceController
	timeSpan   time.Duration
	now        func() time.Time
}

func NewTimeSpanHandler(ctrl ServiceController, timeSpan time.Duration) *TimeSpanHandler {
	if timeSpan <= 0 {
		timeSpan = DefaultTimeSpan
	}
	return &TimeSpanHandler{
		controller: ctrl,
		timeSpan:   timeSpan,
		now:        time.Now,
	}
}

func (h *TimeSpanHandler) Handle(ctx context.Context, msg messages.FailureMessage) error {
	handle, ok := h.controller.GetHandle(msg.UUID)
	if !ok {
		log.Debug().Str("uuid", msg.UUID).Msg("failure reported for unknown service, ignoring")
		return nil
	}

	elapsed := h.now().Sub(handle.LastUpdate)
	if elapsed < h.timeSpan {
		log.Info().Str("uuid", msg.UUID).Str("reason", msg.Reason).Dur("elapsed", elapsed).Msg("restarting failed service")
		return h.controller.RestartService(ctx, msg.UUID)
	}
	log.Info().Str("uuid", msg.UUID).Str("reason", msg.Reason).Dur("elapsed", elapsed).Msg("removing failed service")
	return h.controller.RemoveService(ctx, msg.UUID)
}

// ReconfigureHandler removes every failed service.
type ReconfigureHandler struct {
	controller ServiceController
}

func NewReconfigureHandler(ctrl ServiceController) *ReconfigureHandler {
	return &ReconfigureHandler{controller: ctrl}
}

func (h *ReconfigureHandler) Handle(ctx context.Context, msg messages.FailureMessage) error {
	if _, ok := h.controller.GetHandle(msg.UUID); !ok {
		log.Debug().Str("uuid", msg.UUID).Msg("failure reported for unknown service, ignoring")
		return nil
	}
	log.Info().Str("uuid", msg.UUID).Str("reason", msg.Reason).Msg("removing failed service")
	return h.controller.RemoveService(ctx, msg.UUID)
}

package failure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManyThreads/horme/core/messages"
	"github.com/ManyThreads/horme/internal/controller"
	"github.com/ManyThreads/horme/internal/failure/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func handleUpdatedAt(t time.Time) *controller.ServiceHandle {
	return &controller.ServiceHandle{LastUpdate: t, PublishedVersion: 1}
}

func newTestTimeSpanHandler(ctrl ServiceController) *TimeSpanHandler {
	h := NewTimeSpanHandler(ctrl, 5*time.Second)
	h.now = func() time.Time { return testNow }
	return h
}

func TestTimeSpanHandlerRestartsRecentFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockServiceController(ctrl)

	sc.EXPECT().GetHandle("bri").Return(handleUpdatedAt(testNow.Add(-3*time.Second)), true)
	sc.EXPECT().RestartService(gomock.Any(), "bri").Return(nil)
	sc.EXPECT().RemoveService(gomock.Any(), gomock.Any()).Times(0)

	err := newTestTimeSpanHandler(sc).Handle(context.Background(), messages.FailureMessage{UUID: "bri", Reason: messages.ReasonDead})
	require.NoError(t, err)
}

func TestTimeSpanHandlerRemovesSteadyStateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockServiceController(ctrl)

	sc.EXPECT().GetHandle("bri").Return(handleUpdatedAt(testNow.Add(-10*time.Second)), true)
	sc.EXPECT().RemoveService(gomock.Any(), "bri").Return(nil)
	sc.EXPECT().RestartService(gomock.Any(), gomock.Any()).Times(0)

	err := newTestTimeSpanHandler(sc).Handle(context.Background(), messages.FailureMessage{UUID: "bri", Reason: messages.ReasonUnknown})
	require.NoError(t, err)
}

func TestTimeSpanHandlerThresholdIsExclusive(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockServiceController(ctrl)

	sc.EXPECT().GetHandle("bri").Return(handleUpdatedAt(testNow.Add(-5*time.Second)), true)
	sc.EXPECT().RemoveService(gomock.Any(), "bri").Return(nil)

	require.NoError(t, newTestTimeSpanHandler(sc).Handle(context.Background(), messages.FailureMessage{UUID: "bri"}))
}

func TestTimeSpanHandlerIgnoresUnknownService(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockServiceController(ctrl)

	sc.EXPECT().GetHandle("ghost").Return(nil, false)

	err := newTestTimeSpanHandler(sc).Handle(context.Background(), messages.FailureMessage{UUID: "ghost", Reason: messages.ReasonDead})
	require.NoError(t, err)
}

func TestTimeSpanHandlerPropagatesErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockServiceController(ctrl)

	sc.EXPECT().GetHandle("bri").Return(handleUpdatedAt(testNow), true)
	sc.EXPECT().RestartService(gomock.Any(), "bri").Return(errors.New("spawn failed"))

	err := newTestTimeSpanHandler(sc).Handle(context.Background(), messages.FailureMessage{UUID: "bri"})
	assert.EqualError(t, err, "spawn failed")
}

func TestReconfigureHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockServiceController(ctrl)

	gomock.InOrder(
		sc.EXPECT().GetHandle("bri").Return(handleUpdatedAt(time.Now()), true),
		sc.EXPECT().RemoveService(gomock.Any(), "bri").Return(nil),
		sc.EXPECT().GetHandle("ghost").Return(nil, false),
	)

	h := NewReconfigureHandler(sc)
	require.NoError(t, h.Handle(context.Background(), messages.FailureMessage{UUID: "bri"}))
	require.NoError(t, h.Handle(context.Background(), messages.FailureMessage{UUID: "ghost"}))
}

func TestNewHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	sc := mocks.NewMockServiceController(ctrl)

	h, err := NewHandler(PolicyTimeSpan, sc, 0)
	require.NoError(t, err)
	require.IsType(t, &TimeSpanHandler{}, h)
	assert.Equal(t, DefaultTimeSpan, h.(*TimeSpanHandler).timeSpan)

	h, err = NewHandler(PolicyReconfigure, sc, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &ReconfigureHandler{}, h)

	_, err = NewHandler("backoff", sc, time.Second)
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

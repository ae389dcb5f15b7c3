package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ManyThreads/horme/core/service"
	"github.com/ManyThreads/horme/internal/bus"
	"github.com/ManyThreads/horme/internal/controller"
	"github.com/ManyThreads/horme/internal/launch"
	"github.com/ManyThreads/horme/internal/monitor"
	"github.com/ManyThreads/horme/internal/process"
	"github.com/ManyThreads/horme/internal/process/test_helpers"
	"github.com/ManyThreads/horme/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	router  http.Handler
	store   *storage.MemoryStorage
	ctrl    *controller.Controller
	driver  *test_helpers.RecordingDriver
	bus     *bus.MemoryBus
	monitor *monitor.Monitor
}

func newAPIEnv(t *testing.T) *apiEnv {
	env := &apiEnv{
		store:  storage.NewMemoryStorage(),
		driver: test_helpers.NewRecordingDriver(launch.DriverNoop),
		bus:    bus.NewMemoryBus(),
	}
	env.ctrl = controller.NewController(
		&controller.Config{Apartment: "home", MQTTHost: "localhost", LogLevel: "info"},
		env.store,
		launch.StaticLoader{
			"light-switch": {Driver: launch.DriverNoop},
			"ceiling-lamp": {Driver: launch.DriverNoop},
		},
		process.NewProcessManager([]process.Driver{env.driver}),
		env.bus,
	)
	env.monitor = monitor.NewMonitor(env.bus, "home")
	require.NoError(t, env.monitor.Start(context.Background()))
	env.ctrl.OnRemoval(env.monitor.Forget)

	env.router = NewRouter([]Route{
		NewHealthRoute(),
		NewListServicesRoute(env.store, env.ctrl, env.monitor),
		NewCreateServiceRoute(env.store, env.ctrl),
		NewPatchServiceRoute(env.store, env.ctrl),
		NewRestartServiceRoute(env.store, env.ctrl),
		NewDeleteServiceRoute(env.store, env.ctrl),
	})
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func (e *apiEnv) createService(t *testing.T, body string) *service.ServiceEntry {
	resp := e.do(t, http.MethodPost, "/services", body)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var entry service.ServiceEntry
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entry))
	return &entry
}

func TestHealthRoute(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", resp.Body.String())

	resp = env.do(t, http.MethodPost, "/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestCreateAndListServices(t *testing.T) {
	env := newAPIEnv(t)
	bri := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)
	lamp := env.createService(t, `{"type":"ceiling-lamp","room":"bedroom","depends":["`+bri.UUID+`"]}`)
	assert.Equal(t, []service.UUID{bri.UUID}, lamp.DependsOn)

	err := env.bus.Publish(context.Background(), "data/home/bedroom/light-switch"+bri.UUID,
		[]byte(`{"apartment":"home","location":"bedroom","uuid":"`+bri.UUID+`","type":"light-switch","value":"on","timestamp":1}`), true)
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/services", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var statuses []ServiceStatus
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)

	assert.Equal(t, bri.UUID, statuses[0].Entry.UUID)
	require.NotNil(t, statuses[0].Handle)
	assert.Equal(t, 1, statuses[0].Handle.Info.Version)
	require.NotNil(t, statuses[0].State)
	assert.Equal(t, "on", statuses[0].State.Value)

	require.NotNil(t, statuses[1].Handle)
	assert.Equal(t, []service.UUID{bri.UUID}, statuses[1].Handle.DependsOn())
	assert.Nil(t, statuses[1].State)
}

func TestCreateServiceValidation(t *testing.T) {
	env := newAPIEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/services", `{"room":"bedroom"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/services", `{"type":"ceiling-lamp","depends":["ghost"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/services", `{`).Code)
	assert.Empty(t, env.driver.Log())
}

func TestPatchService(t *testing.T) {
	env := newAPIEnv(t)
	bri := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)
	fra := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)
	lamp := env.createService(t, `{"type":"ceiling-lamp","room":"bedroom","depends":["`+bri.UUID+`"]}`)

	resp := env.do(t, http.MethodPatch, "/services/"+lamp.UUID, `{"depends":["`+bri.UUID+`","`+fra.UUID+`"]}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	h, ok := env.ctrl.GetHandle(lamp.UUID)
	require.True(t, ok)
	assert.Equal(t, []service.UUID{bri.UUID, fra.UUID}, h.DependsOn())

	// A cycle is rejected and rolled back.
	resp = env.do(t, http.MethodPatch, "/services/"+bri.UUID, `{"depends":["`+lamp.UUID+`"]}`)
	assert.Equal(t, http.StatusConflict, resp.Code)
	entry, _, err := env.store.QueryService(context.Background(), bri.UUID)
	require.NoError(t, err)
	assert.Empty(t, entry.DependsOn)

	resp = env.do(t, http.MethodPatch, "/services/"+bri.UUID, `{"uuid":"other"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPatch, "/services/ghost", `{"room":"kitchen"}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// Added dependencies must exist, known ones may stay.
	resp = env.do(t, http.MethodPatch, "/services/"+lamp.UUID, `{"depends":["`+bri.UUID+`","ghost"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	entry, _, err = env.store.QueryService(context.Background(), lamp.UUID)
	require.NoError(t, err)
	assert.Equal(t, []service.UUID{bri.UUID, fra.UUID}, entry.DependsOn)
}

func TestPatchServiceRoomRewiresDependents(t *testing.T) {
	env := newAPIEnv(t)
	bri := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)
	lamp := env.createService(t, `{"type":"ceiling-lamp","room":"bedroom","depends":["`+bri.UUID+`"]}`)

	resp := env.do(t, http.MethodPatch, "/services/"+bri.UUID, `{"room":"kitchen"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	moved, ok := env.ctrl.GetHandle(bri.UUID)
	require.True(t, ok)
	assert.Equal(t, "home/kitchen/light-switch"+bri.UUID, moved.Info.Topic)
	assert.Equal(t, 2, moved.Info.Version)

	h, ok := env.ctrl.GetHandle(lamp.UUID)
	require.True(t, ok)
	require.Len(t, h.Depends, 1)
	assert.Equal(t, moved.Info.Topic, h.Depends[0].Topic)
}

func TestRestartService(t *testing.T) {
	env := newAPIEnv(t)
	bri := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)

	resp := env.do(t, http.MethodPost, "/services/"+bri.UUID+"/restart", "")
	require.Equal(t, http.StatusAccepted, resp.Code)
	h, ok := env.ctrl.GetHandle(bri.UUID)
	require.True(t, ok)
	assert.Equal(t, 2, h.Info.Version)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/services/ghost/restart", "").Code)
}

func TestDeleteService(t *testing.T) {
	env := newAPIEnv(t)
	bri := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)
	fra := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)
	lamp := env.createService(t, `{"type":"ceiling-lamp","room":"bedroom","depends":["`+bri.UUID+`"]}`)

	resp := env.do(t, http.MethodDelete, "/services/"+bri.UUID, "")
	require.Equal(t, http.StatusNoContent, resp.Code)

	_, ok := env.ctrl.GetHandle(bri.UUID)
	assert.False(t, ok)
	entry, _, err := env.store.QueryService(context.Background(), lamp.UUID)
	require.NoError(t, err)
	assert.Equal(t, []service.UUID{fra.UUID}, entry.DependsOn)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/services/"+bri.UUID, "").Code)
}

func TestRemovedServiceStateIsDropped(t *testing.T) {
	env := newAPIEnv(t)
	bri := env.createService(t, `{"type":"light-switch","room":"bedroom"}`)
	err := env.bus.Publish(context.Background(), "data/home/bedroom/light-switch"+bri.UUID,
		[]byte(`{"apartment":"home","location":"bedroom","uuid":"`+bri.UUID+`","type":"light-switch","value":"on","timestamp":1}`), false)
	require.NoError(t, err)
	_, ok := env.monitor.State(bri.UUID)
	require.True(t, ok)

	// Removal through the controller, as the failure handler does it.
	require.NoError(t, env.ctrl.RemoveService(context.Background(), bri.UUID))
	_, ok = env.monitor.State(bri.UUID)
	assert.False(t, ok)
}

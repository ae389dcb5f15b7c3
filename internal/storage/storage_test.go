package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManyThreads/horme/core/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStorages(t *testing.T) map[string]PersistentStorage {
	sqliteStorage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "horme.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sqliteStorage.Close())
	})

	storages := map[string]PersistentStorage{
		"memory": NewMemoryStorage(),
		"sqlite": sqliteStorage,
	}

	// The redis backend is only exercised against a live server.
	if addr := os.Getenv("HORME_TEST_REDIS_ADDR"); addr != "" {
		prefix := fmt.Sprintf("horme-test:%s:", uuid.NewString())
		redisStorage, err := NewRedisStorage(context.Background(), &RedisOptions{
			Addr:           addr,
			Prefix:         prefix,
			ConnectTimeout: 2 * time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx := context.Background()
			err := redisStorage.client.Del(ctx, redisStorage.entriesKey(), redisStorage.orderKey(), redisStorage.seqKey()).Err()
			assert.NoError(t, err)
			require.NoError(t, redisStorage.Close())
		})
		storages["redis"] = redisStorage
	}
	return storages
}

func TestStorageContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			bri, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "light-switch", Room: "bedroom"})
			require.NoError(t, err)
			require.NotEmpty(t, bri.UUID)
			require.Empty(t, bri.DependsOn)

			fra, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "light-switch", Room: "bedroom"})
			require.NoError(t, err)
			require.NotEqual(t, bri.UUID, fra.UUID)

			reasoner, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "failure-reasoner"})
			require.NoError(t, err)

			lamp, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "ceiling-lamp", Room: "bedroom"})
			require.NoError(t, err)
			lamp.DependsOn = []service.UUID{bri.UUID, fra.UUID}
			require.NoError(t, s.UpdateService(ctx, lamp))

			all, err := s.QueryServices(ctx)
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, bri.UUID, all[0].UUID)
			assert.Equal(t, lamp.UUID, all[3].UUID)
			assert.Equal(t, []service.UUID{bri.UUID, fra.UUID}, all[3].DependsOn)

			bedroom, err := s.QueryServicesInRoom(ctx, "bedroom")
			require.NoError(t, err)
			assert.Len(t, bedroom, 3)

			global, err := s.QueryServicesInRoom(ctx, "")
			require.NoError(t, err)
			require.Len(t, global, 1)
			assert.Equal(t, reasoner.UUID, global[0].UUID)

			got, ok, err := s.QueryService(ctx, lamp.UUID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, lamp, got)

			_, ok, err = s.QueryService(ctx, "does-not-exist")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.RemoveService(ctx, fra.UUID))
			require.NoError(t, s.RemoveService(ctx, fra.UUID))
			all, err = s.QueryServices(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			err = s.UpdateService(ctx, &service.ServiceEntry{UUID: fra.UUID, Type: "light-switch"})
			require.ErrorIs(t, err, ErrServiceNotFound)
		})
	}
}

func TestStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, Seed(ctx, s))

			all, err := s.QueryServices(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			lamp := all[2]
			require.Len(t, lamp.DependsOn, 2)

			// Mutating a returned value must not leak into storage.
			lamp.DependsOn[0] = "mutated"
			lamp.Room = "kitchen"

			stored, ok, err := s.QueryService(ctx, lamp.UUID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "bedroom", stored.Room)
			assert.NotEqual(t, "mutated", stored.DependsOn[0])

			// Seeding twice is a no-op.
			require.NoError(t, Seed(ctx, s))
			all, err = s.QueryServices(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestStorageRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.CreateService(ctx, service.UnInitServiceEntry{Room: "bedroom"})
			require.ErrorIs(t, err, ErrInvalidEntry)

			entry, err := s.CreateService(ctx, service.UnInitServiceEntry{Type: "light-switch"})
			require.NoError(t, err)
			entry.DependsOn = []service.UUID{entry.UUID}
			require.ErrorIs(t, s.UpdateService(ctx, entry), ErrInvalidEntry)
		})
	}
}

func TestApplyMergePatch(t *testing.T) {
	entry := &service.ServiceEntry{UUID: "lamp", Type: "ceiling-lamp", Room: "bedroom", DependsOn: []service.UUID{"bri", "fra"}}

	patched, err := ApplyMergePatch(entry, []byte(`{"depends": ["bri"], "room": "kitchen"}`))
	require.NoError(t, err)
	assert.Equal(t, []service.UUID{"bri"}, patched.DependsOn)
	assert.Equal(t, "kitchen", patched.Room)
	// The input is left untouched.
	assert.Equal(t, []service.UUID{"bri", "fra"}, entry.DependsOn)

	patched, err = ApplyMergePatch(entry, []byte(`{"depends": null}`))
	require.NoError(t, err)
	assert.Empty(t, patched.DependsOn)

	_, err = ApplyMergePatch(entry, []byte(`{"uuid": "other"}`))
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = ApplyMergePatch(entry, []byte(`{"depends": ["lamp"]}`))
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = ApplyMergePatch(entry, []byte(`not json`))
	require.Error(t, err)
}

func TestRedisStorageUnavailable(t *testing.T) {
	start := time.Now()
	_, err := NewRedisStorage(context.Background(), &RedisOptions{
		Addr:           "127.0.0.1:1",
		ConnectTimeout: 300 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable at 127.0.0.1:1")
	assert.Less(t, time.Since(start), 5*time.Second)
}

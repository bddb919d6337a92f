package integration

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ecomsync/easyecom-extract/pkg/state"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestRedisStore_RoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := state.NewRedisStore(redisClient, "test:extract:state")

	// Empty backend yields a fresh state.
	fresh, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on empty backend error: %v", err)
	}
	if len(fresh.Bookmarks) != 0 {
		t.Errorf("fresh bookmarks = %v, want empty", fresh.Bookmarks)
	}

	s := state.NewRunState()
	s.Advance("sell_orders", "2024-01-03 09:00:00")
	s.Advance("products", "2024-02-01 00:00:00")
	s.Token = &state.TokenState{
		AccessToken:    "redis-token",
		ExpiresIn:      3600,
		TokenCreatedAt: 1704067200,
	}

	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := loaded.Bookmark("sell_orders").ReplicationKeyValue; got != "2024-01-03 09:00:00" {
		t.Errorf("sell_orders bookmark = %q, want persisted value", got)
	}
	if got := loaded.Bookmark("products").ReplicationKeyValue; got != "2024-02-01 00:00:00" {
		t.Errorf("products bookmark = %q, want persisted value", got)
	}
	if loaded.Token == nil || loaded.Token.AccessToken != "redis-token" {
		t.Errorf("token = %+v, want persisted triple", loaded.Token)
	}
}

func TestRedisStore_SaveAppliesCollapse(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := state.NewRedisStore(redisClient, "test:extract:collapse")

	s := state.NewRunState()
	s.Bookmarks["gl_entries_dimensions"] = state.Bookmark{
		Partitions: []json.RawMessage{json.RawMessage(`{"context": {"account": "a1"}}`)},
	}
	s.Advance("sell_orders", "2024-01-03 09:00:00")

	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	raw, err := redisClient.Get(ctx, "test:extract:collapse").Result()
	if err != nil {
		t.Fatalf("redis get: %v", err)
	}
	if strings.Contains(raw, "account") {
		t.Errorf("persisted value still carries partition detail: %s", raw)
	}
	if !strings.Contains(raw, "2024-01-03 09:00:00") {
		t.Errorf("persisted value missing other stream bookmark: %s", raw)
	}
}

func TestRedisStore_SuccessiveCheckpoints(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := state.NewRedisStore(redisClient, "test:extract:checkpoints")

	s := state.NewRunState()
	for _, value := range []string{"2024-01-01 00:00:00", "2024-01-02 10:00:00", "2024-01-03 09:00:00"} {
		s.Advance("sell_orders", value)
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := loaded.Bookmark("sell_orders").ReplicationKeyValue; got != "2024-01-03 09:00:00" {
		t.Errorf("final bookmark = %q, want last committed value", got)
	}
}

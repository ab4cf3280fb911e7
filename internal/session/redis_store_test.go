package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"retroloop/api/internal/board"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func testIdentity() Identity {
	return Identity{UserID: "user-123", Name: "Alice", AccountKind: board.AccountRegistered}
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndResolveSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", testIdentity(), time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	identity, err := store.Resolve(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if identity.UserID != "user-123" || identity.Name != "Alice" || identity.AccountKind != board.AccountRegistered {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestResolveExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", testIdentity(), time.Now().Add(time.Millisecond)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Millisecond)

	if _, err := store.Resolve(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestResolveUnknownSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, err := store.Resolve(context.Background(), "never-saved"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "hash-1", testIdentity(), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.Revoke(ctx, "hash-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Resolve(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
	// Revoking a missing session is a no-op.
	if err := store.Revoke(ctx, "never-saved"); err != nil {
		t.Errorf("Revoke of unknown session failed: %v", err)
	}
}

func TestMemoryStoreMirrorsRedisBehaviour(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Save(ctx, "hash-1", testIdentity(), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	identity, err := store.Resolve(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if identity.UserID != "user-123" {
		t.Errorf("unexpected identity: %+v", identity)
	}

	if err := store.Save(ctx, "hash-2", testIdentity(), time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Resolve(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired entry, got %v", err)
	}

	if err := store.Revoke(ctx, "hash-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Resolve(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
}

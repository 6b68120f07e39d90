package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewSnapshotCache("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create snapshot cache: %v", err)
	}
	return c, s
}

func TestNewSnapshotCache(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := NewSnapshotCache("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotCache failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSetAndGetSnapshot(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	doc := []byte(`{"graph_version_id":"v1","root_node":"n1"}`)

	if err := c.Set(ctx, "session-1", doc); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("expected %s, got %s", doc, got)
	}
}

func TestGetMissingSnapshot(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	_, err := c.Get(context.Background(), "no-such-session")
	if !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestSnapshotExpires(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	c, err := NewSnapshotCache("redis://"+s.Addr(), time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotCache failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "session-1", []byte(`{}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	_, err = c.Get(ctx, "session-1")
	if !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "session-1", []byte(`{}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Invalidate(ctx, "session-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := c.Get(ctx, "session-1"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after invalidate, got %v", err)
	}

	// Invalidating an absent key is fine.
	if err := c.Invalidate(ctx, "never-set"); err != nil {
		t.Errorf("Invalidate for absent key failed: %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	c, s := setupTestCache(t)
	defer c.Close()
	defer s.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "session-a", []byte(`{"v":"a"}`)); err != nil {
		t.Fatalf("Set a failed: %v", err)
	}
	if err := c.Set(ctx, "session-b", []byte(`{"v":"b"}`)); err != nil {
		t.Fatalf("Set b failed: %v", err)
	}

	if err := c.Invalidate(ctx, "session-a"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	got, err := c.Get(ctx, "session-b")
	if err != nil {
		t.Fatalf("Get b failed: %v", err)
	}
	if string(got) != `{"v":"b"}` {
		t.Errorf("session-b snapshot corrupted: %s", got)
	}
}

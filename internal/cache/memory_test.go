package cache

import (
	"context"
	"testing"
	"time"

	"signalcollector/internal/config"
)

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "forever", []byte("x"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expired entry still returned")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Fatalf("entry without ttl expired")
	}

	if err := s.Delete(ctx, "forever"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "forever"); ok {
		t.Fatalf("deleted entry still returned")
	}
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	type payload struct {
		Total int `json:"total"`
	}

	var out payload
	if found, err := GetJSON(ctx, s, "p", &out); err != nil || found {
		t.Fatalf("GetJSON() on empty store found=%v err=%v", found, err)
	}
	if err := SetJSON(ctx, s, "p", payload{Total: 7}, time.Minute); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	if found, err := GetJSON(ctx, s, "p", &out); err != nil || !found || out.Total != 7 {
		t.Fatalf("GetJSON() found=%v err=%v out=%+v", found, err, out)
	}

	_ = s.Set(ctx, "bad", []byte("{"), time.Minute)
	if found, err := GetJSON(ctx, s, "bad", &out); err != nil || found {
		t.Fatalf("GetJSON() on corrupt entry found=%v err=%v", found, err)
	}
	if _, ok, _ := s.Get(ctx, "bad"); ok {
		t.Fatalf("corrupt entry not evicted")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), configFor("memcached")); err == nil {
		t.Fatalf("New() expected error")
	}
	s, err := New(context.Background(), configFor(""))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("New() = %T, want *MemoryStore", s)
	}
}

func configFor(driver string) config.CacheConfig {
	return config.CacheConfig{Driver: driver}
}

package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"live-poll-service/internal/app"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute, "node-a")

	if !store.Insert(app.NewSession("ABC123", "host", app.DefaultSettings())) {
		t.Fatalf("expected insert")
	}
	if !mr.Exists("live:session:ABC123") {
		t.Fatalf("expected redis key to be set")
	}

	mr.FastForward(50 * time.Second)
	if len(store.List()) != 1 {
		t.Fatalf("expected one session")
	}
	if ttl := mr.TTL("live:session:ABC123"); ttl != time.Minute {
		t.Fatalf("expected claim refreshed to 1m, got %v", ttl)
	}

	store.Delete("ABC123")
	if mr.Exists("live:session:ABC123") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestSessionStoreRespectsOtherInstanceClaim(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewSessionStore(client, time.Minute, "node-a")
	b := NewSessionStore(client, time.Minute, "node-b")

	if !a.Insert(app.NewSession("ABC123", "host", app.DefaultSettings())) {
		t.Fatalf("node a should claim the code")
	}
	if b.Insert(app.NewSession("ABC123", "host", app.DefaultSettings())) {
		t.Fatalf("node b must not reuse a claimed code")
	}

	mr.FastForward(2 * time.Minute)
	if !b.Insert(app.NewSession("ABC123", "host", app.DefaultSettings())) {
		t.Fatalf("expired claim should be reusable")
	}
}

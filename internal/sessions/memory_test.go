package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aleck31/aibox/pkg/models"
)

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := models.NewSession("alice", "chatbot")
	sess.Metadata["persona"] = "pirate"
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != "alice" || got.Module != "chatbot" {
		t.Errorf("scope = %s/%s", got.UserID, got.Module)
	}
	if got.Metadata["persona"] != "pirate" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := models.NewSession("alice", "chatbot")
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	sess.Metadata["persona"] = "mutated"
	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.Metadata["persona"]; ok {
		t.Error("store shares metadata map with caller")
	}

	// And mutating a returned copy must not change the store either.
	got.Metadata["x"] = 1
	again, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := again.Metadata["x"]; ok {
		t.Error("store shares metadata map with readers")
	}
}

func TestMemoryStoreLatestSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old := models.NewSession("alice", "chatbot")
	old.UpdatedAt = time.Now().Add(-time.Hour)
	recent := models.NewSession("alice", "chatbot")
	other := models.NewSession("alice", "agent")

	for _, s := range []*models.Session{old, recent, other} {
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.LatestSession(ctx, "alice", "chatbot")
	if err != nil {
		t.Fatalf("LatestSession: %v", err)
	}
	if got.ID != recent.ID {
		t.Errorf("latest = %s, want %s", got.ID, recent.ID)
	}

	if _, err := store.LatestSession(ctx, "bob", "chatbot"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := models.NewSession("alice", "chatbot")
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 6; i++ {
		m := models.NewMessage(sess.ID, models.RoleUser, fmt.Sprintf("msg-%d", i))
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.AddMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.GetMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Fatalf("got %d messages, want 6", len(all))
	}
	if all[0].Content != "msg-0" || all[5].Content != "msg-5" {
		t.Errorf("order: first=%s last=%s", all[0].Content, all[5].Content)
	}

	// A limit keeps the newest N, still oldest first.
	limited, err := store.GetMessages(ctx, sess.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].Content != "msg-4" || limited[1].Content != "msg-5" {
		t.Errorf("limited = %v", limited)
	}

	if err := store.ClearMessages(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	cleared, err := store.GetMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cleared) != 0 {
		t.Errorf("got %d messages after clear", len(cleared))
	}
}

func TestMemoryStoreDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := models.NewSession("alice", "chatbot")
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := store.AddMessage(ctx, models.NewMessage(sess.ID, models.RoleUser, "hi")); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	msgs, err := store.GetMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Error("messages survive session deletion")
	}
}

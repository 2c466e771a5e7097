package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "as"), mr
}

func testSession(id, userID, deviceID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		SessionID:   id,
		UserID:      userID,
		DeviceID:    deviceID,
		RefreshHash: sha256.Sum256([]byte("secret-" + id)),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", "user-1", "dev-1", time.Hour)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || got.DeviceID != "dev-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.RefreshHash != sess.RefreshHash {
		t.Fatal("refresh hash not round-tripped")
	}
}

func TestGetExpiredDeletes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-exp", "user-1", "dev-1", -time.Minute)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Get(ctx, "sid-exp"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil for expired session, got %v", err)
	}

	ids, err := store.ActiveSessionIDs(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expired session still indexed: %v", ids)
	}
}

func TestRotate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-rot", "user-1", "dev-1", time.Hour)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	next := sha256.Sum256([]byte("next-secret"))
	rotated, err := store.Rotate(ctx, "sid-rot", sess.RefreshHash, next)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.RefreshHash != next {
		t.Fatal("rotated session does not carry the new hash")
	}

	got, err := store.Get(ctx, "sid-rot")
	if err != nil {
		t.Fatalf("Get after rotate: %v", err)
	}
	if got.RefreshHash != next {
		t.Fatal("stored session does not carry the new hash")
	}
}

func TestRotateMismatchDeletesSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-mis", "user-1", "dev-1", time.Hour)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	wrong := sha256.Sum256([]byte("stolen-or-stale"))
	next := sha256.Sum256([]byte("next"))
	victim, err := store.Rotate(ctx, "sid-mis", wrong, next)
	if !errors.Is(err, ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}
	if victim == nil || victim.UserID != "user-1" || victim.DeviceID != "dev-1" {
		t.Fatalf("mismatch should surface the stored session, got %+v", victim)
	}

	if _, err := store.Get(ctx, "sid-mis"); !errors.Is(err, redis.Nil) {
		t.Fatalf("mismatched session should be deleted, got %v", err)
	}
}

func TestRotateMissing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var h [32]byte
	if _, err := store.Rotate(ctx, "nope", h, h); !errors.Is(err, ErrRefreshSessionNotFound) {
		t.Fatalf("expected ErrRefreshSessionNotFound, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-del", "user-1", "", time.Hour)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Delete(ctx, "sid-del"); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := store.Delete(ctx, "sid-del"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestDeleteAllForDevice(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := store.Save(ctx, testSession(id, "user-1", "dev-1", time.Hour), time.Hour); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	if err := store.Save(ctx, testSession("c", "user-1", "dev-2", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save c: %v", err)
	}

	if err := store.DeleteAllForDevice(ctx, "user-1", "dev-1"); err != nil {
		t.Fatalf("DeleteAllForDevice: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		if _, err := store.Get(ctx, id); !errors.Is(err, redis.Nil) {
			t.Fatalf("session %s should be gone, got %v", id, err)
		}
	}
	if _, err := store.Get(ctx, "c"); err != nil {
		t.Fatalf("session on other device should survive: %v", err)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"x", "y", "z"} {
		if err := store.Save(ctx, testSession(id, "user-9", "dev-1", time.Hour), time.Hour); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	if err := store.DeleteAllForUser(ctx, "user-9"); err != nil {
		t.Fatalf("DeleteAllForUser: %v", err)
	}

	count, err := store.ActiveSessionCount(ctx, "user-9")
	if err != nil {
		t.Fatalf("ActiveSessionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 active sessions, got %d", count)
	}
}

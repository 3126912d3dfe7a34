package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"

	"sealbin/pkg/domain"
)

var testDBSeq int

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:sqlitetest%d?mode=memory&cache=shared", testDBSeq)
	s, err := NewSQLiteWithConfig(dsn, 4, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMetadata(id string, now time.Time) *domain.Metadata {
	return &domain.Metadata{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Display:   domain.DisplayMeta{Language: "go", Title: "snippet"},
	}
}

func TestSQLite_CreateGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	exp := now.Add(time.Hour)
	five := 5
	m := testMetadata("id-create-get", now)
	m.ExpiresAt = &exp
	m.MaxViews = &five
	m.HasPassword = true
	m.TokenDigest = "digest-value"
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, "id-create-get")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("id mismatch: %s", got.ID)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("expires_at mismatch: got %v, want %v", got.ExpiresAt, exp)
	}
	if got.MaxViews == nil || *got.MaxViews != 5 {
		t.Errorf("max_views mismatch: %v", got.MaxViews)
	}
	if got.ViewCount != 0 {
		t.Errorf("fresh paste should have zero views, got %d", got.ViewCount)
	}
	if got.Burned {
		t.Error("fresh paste should not be burned")
	}
	if !got.HasPassword {
		t.Error("has_password not persisted")
	}
	if got.TokenDigest != "digest-value" {
		t.Errorf("token digest mismatch: %s", got.TokenDigest)
	}
	if got.Display.Language != "go" || got.Display.Title != "snippet" {
		t.Errorf("display metadata mismatch: %+v", got.Display)
	}
}

func TestSQLite_CreateGetNullables(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := &domain.Metadata{ID: "id-nullable", CreatedAt: now, UpdatedAt: now}
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := s.Get(ctx, "id-nullable")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ExpiresAt != nil || got.MaxViews != nil {
		t.Errorf("nullable fields should stay nil: %v %v", got.ExpiresAt, got.MaxViews)
	}
	if got.TokenDigest != "" {
		t.Errorf("token digest should be empty, got %q", got.TokenDigest)
	}
}

func TestSQLite_GetMissing(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expected ErrPasteNotFound, got %v", err)
	}
}

func TestSQLite_GetDoesNotFilterExpired(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Hour)

	m := testMetadata("id-expired", now.Add(-2*time.Hour))
	m.ExpiresAt = &past
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Expired rows must still be readable: the caller distinguishes
	// GONE from NOT_FOUND off the row itself.
	got, err := s.Get(ctx, "id-expired")
	if err != nil {
		t.Fatalf("Get on expired row failed: %v", err)
	}
	if !got.Expired(now) {
		t.Error("row should evaluate expired")
	}
}

func TestSQLite_Exists(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.Exists(ctx, "id-exists")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("id should not exist yet")
	}
	if err := s.Create(ctx, testMetadata("id-exists", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ok, err = s.Exists(ctx, "id-exists")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("id should exist after create")
	}
}

func TestSQLite_ConsumeView(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Create(ctx, testMetadata("id-views", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for want := 1; want <= 3; want++ {
		count, err := s.ConsumeView(ctx, "id-views", now)
		if err != nil {
			t.Fatalf("ConsumeView failed: %v", err)
		}
		if count != want {
			t.Errorf("view count = %d, want %d", count, want)
		}
	}
	got, err := s.Get(ctx, "id-views")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ViewCount != 3 {
		t.Errorf("persisted view count = %d, want 3", got.ViewCount)
	}
}

func TestSQLite_ConsumeViewMissing(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.ConsumeView(context.Background(), "missing", time.Now())
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expected ErrPasteNotFound, got %v", err)
	}
}

func TestSQLite_MarkBurned(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Create(ctx, testMetadata("id-burn", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.MarkBurned(ctx, "id-burn", now); err != nil {
		t.Fatalf("MarkBurned failed: %v", err)
	}
	if err := s.MarkBurned(ctx, "id-burn", now); err != nil {
		t.Errorf("repeat MarkBurned should be a no-op: %v", err)
	}
	got, err := s.Get(ctx, "id-burn")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Burned {
		t.Error("burn flag not persisted")
	}
}

func TestSQLite_Rename(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := testMetadata("id-old", now)
	m.TokenDigest = "digest"
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.ConsumeView(ctx, "id-old", now); err != nil {
		t.Fatalf("ConsumeView failed: %v", err)
	}
	if err := s.Rename(ctx, "id-old", "id-new", now); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if _, err := s.Get(ctx, "id-old"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("old id should be gone, got %v", err)
	}
	got, err := s.Get(ctx, "id-new")
	if err != nil {
		t.Fatalf("Get at new id failed: %v", err)
	}
	if got.ViewCount != 1 {
		t.Errorf("view count should survive rename, got %d", got.ViewCount)
	}
	if got.TokenDigest != "digest" {
		t.Error("token digest should survive rename")
	}
}

func TestSQLite_RenameMissing(t *testing.T) {
	s := newTestSQLite(t)
	err := s.Rename(context.Background(), "missing", "whatever", time.Now())
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expected ErrPasteNotFound, got %v", err)
	}
}

func TestSQLite_ExpiredIDsAndPurge(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	one := 1

	expired := testMetadata("id-past", now.Add(-2*time.Hour))
	expired.ExpiresAt = &past
	burned := testMetadata("id-burnt", now)
	burned.Burned = false
	exhausted := testMetadata("id-spent", now)
	exhausted.MaxViews = &one
	live := testMetadata("id-live", now)
	live.ExpiresAt = &future

	for _, m := range []*domain.Metadata{expired, burned, exhausted, live} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create %s failed: %v", m.ID, err)
		}
	}
	if err := s.MarkBurned(ctx, "id-burnt", now); err != nil {
		t.Fatalf("MarkBurned failed: %v", err)
	}
	if _, err := s.ConsumeView(ctx, "id-spent", now); err != nil {
		t.Fatalf("ConsumeView failed: %v", err)
	}

	ids, err := s.ExpiredIDs(ctx, now, 100)
	if err != nil {
		t.Fatalf("ExpiredIDs failed: %v", err)
	}
	found := make(map[string]bool, len(ids))
	for _, id := range ids {
		found[id] = true
	}
	for _, want := range []string{"id-past", "id-burnt", "id-spent"} {
		if !found[want] {
			t.Errorf("expected %s in expired set %v", want, ids)
		}
	}
	if found["id-live"] {
		t.Error("live paste reported expired")
	}

	deleted, err := s.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("purged %d rows, want 3", deleted)
	}
	if _, err := s.Get(ctx, "id-live"); err != nil {
		t.Errorf("live paste should survive purge: %v", err)
	}
	if _, err := s.Get(ctx, "id-past"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expired paste should be purged, got %v", err)
	}
}

func TestSQLite_DeleteIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Create(ctx, testMetadata("id-del", now)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Delete(ctx, "id-del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "id-del"); err != nil {
		t.Errorf("repeat delete should not error: %v", err)
	}
	if _, err := s.Get(ctx, "id-del"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("deleted paste should be gone, got %v", err)
	}
}

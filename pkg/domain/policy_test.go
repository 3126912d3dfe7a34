package domain

import (
	"testing"
	"time"
)

func TestResolvePolicy_Never(t *testing.T) {
	now := time.Now()
	exp, views, err := ResolvePolicy(PolicyNever, 0, 0, now)
	if err != nil {
		t.Fatalf("ResolvePolicy failed: %v", err)
	}
	if exp != nil {
		t.Errorf("never policy should have no expiry, got %v", exp)
	}
	if views != nil {
		t.Errorf("never policy should have no view limit, got %v", views)
	}
}

func TestResolvePolicy_Duration(t *testing.T) {
	now := time.Now()
	exp, views, err := ResolvePolicy(PolicyDuration, 2*time.Hour, 0, now)
	if err != nil {
		t.Fatalf("ResolvePolicy failed: %v", err)
	}
	if exp == nil {
		t.Fatal("duration policy should set expiry")
	}
	if !exp.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("expiry mismatch: got %v, want %v", exp, now.Add(2*time.Hour))
	}
	if views != nil {
		t.Errorf("duration policy should have no view limit")
	}
}

func TestResolvePolicy_DurationRejectsNonPositive(t *testing.T) {
	now := time.Now()
	for _, d := range []time.Duration{0, -time.Hour} {
		if _, _, err := ResolvePolicy(PolicyDuration, d, 0, now); err != ErrInvalidDuration {
			t.Errorf("duration %v: got err %v, want ErrInvalidDuration", d, err)
		}
	}
}

func TestResolvePolicy_Views(t *testing.T) {
	now := time.Now()
	exp, views, err := ResolvePolicy(PolicyViews, 0, 10, now)
	if err != nil {
		t.Fatalf("ResolvePolicy failed: %v", err)
	}
	if exp != nil {
		t.Errorf("views policy should have no absolute expiry")
	}
	if views == nil || *views != 10 {
		t.Errorf("views limit mismatch: got %v, want 10", views)
	}
}

func TestResolvePolicy_ViewsBounds(t *testing.T) {
	now := time.Now()
	for _, n := range []int{0, -1, MaxViewLimit + 1} {
		if _, _, err := ResolvePolicy(PolicyViews, 0, n, now); err != ErrInvalidPolicy {
			t.Errorf("max_views %d: got err %v, want ErrInvalidPolicy", n, err)
		}
	}
	if _, views, err := ResolvePolicy(PolicyViews, 0, MaxViewLimit, now); err != nil || *views != MaxViewLimit {
		t.Errorf("max_views at limit should be accepted, got %v %v", views, err)
	}
}

func TestResolvePolicy_BurnIsSingleView(t *testing.T) {
	now := time.Now()
	exp, views, err := ResolvePolicy(PolicyBurn, 0, 0, now)
	if err != nil {
		t.Fatalf("ResolvePolicy failed: %v", err)
	}
	if exp != nil {
		t.Errorf("burn policy should have no absolute expiry")
	}
	if views == nil || *views != 1 {
		t.Errorf("burn policy should resolve to view limit 1, got %v", views)
	}
}

func TestResolvePolicy_Unknown(t *testing.T) {
	if _, _, err := ResolvePolicy(Policy("weekly"), 0, 0, time.Now()); err != ErrInvalidPolicy {
		t.Errorf("unknown policy: got err %v, want ErrInvalidPolicy", err)
	}
}

func TestMetadata_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	three := 3

	cases := []struct {
		name string
		m    Metadata
		want bool
	}{
		{"no limits", Metadata{}, false},
		{"burned", Metadata{Burned: true}, true},
		{"future expiry", Metadata{ExpiresAt: &future}, false},
		{"past expiry", Metadata{ExpiresAt: &past}, true},
		{"under view limit", Metadata{MaxViews: &three, ViewCount: 2}, false},
		{"at view limit", Metadata{MaxViews: &three, ViewCount: 3}, true},
		{"over view limit", Metadata{MaxViews: &three, ViewCount: 5}, true},
		{"burned wins over future expiry", Metadata{Burned: true, ExpiresAt: &future}, true},
	}
	for _, tc := range cases {
		if got := tc.m.Expired(now); got != tc.want {
			t.Errorf("%s: Expired() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMetadata_ExpiredAtExactBoundary(t *testing.T) {
	now := time.Now()
	m := Metadata{ExpiresAt: &now}
	if m.Expired(now) {
		t.Error("paste should still be live at the exact expiry instant")
	}
}

func TestPayloadTTL(t *testing.T) {
	now := time.Now()
	if got := PayloadTTL(nil, now); got != 0 {
		t.Errorf("nil expiry should have zero TTL, got %v", got)
	}
	future := now.Add(time.Hour)
	if got := PayloadTTL(&future, now); got != time.Hour {
		t.Errorf("TTL mismatch: got %v, want 1h", got)
	}
	past := now.Add(-time.Hour)
	if got := PayloadTTL(&past, now); got != 0 {
		t.Errorf("past expiry should clamp TTL to zero, got %v", got)
	}
}

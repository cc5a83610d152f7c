package orderflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebmertens/broker-gateway/internal/entity"
)

func storedToken(id string, state entity.TokenState, expiresAt time.Time) *entity.ConfirmationToken {
	return &entity.ConfirmationToken{
		ID:        id,
		State:     state,
		IssuedAt:  expiresAt.Add(-time.Minute),
		ExpiresAt: expiresAt,
	}
}

func TestMemoryTokenStore_TransitionIsCompareAndSwap(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()

	token := storedToken("t1", entity.TokenStateChecked, time.Now().Add(time.Minute))
	if err := store.Save(ctx, token); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	swapped, err := store.Transition(ctx, "t1", entity.TokenStateChecked, entity.TokenStateConsumed)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if !swapped {
		t.Fatal("first transition should swap")
	}

	// second swap from CHECKED must fail against the new state
	swapped, err = store.Transition(ctx, "t1", entity.TokenStateChecked, entity.TokenStateConsumed)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if swapped {
		t.Error("second transition should not swap")
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.State != entity.TokenStateConsumed {
		t.Errorf("expected CONSUMED, got %s", got.State)
	}
}

func TestMemoryTokenStore_GetUnknown(t *testing.T) {
	store := NewMemoryTokenStore()

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, entity.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}

	_, err = store.Transition(context.Background(), "nope", entity.TokenStateChecked, entity.TokenStateConsumed)
	if !errors.Is(err, entity.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestMemoryTokenStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()

	_ = store.Save(ctx, storedToken("t1", entity.TokenStateChecked, time.Now().Add(time.Minute)))

	first, _ := store.Get(ctx, "t1")
	first.State = entity.TokenStateExpired

	second, _ := store.Get(ctx, "t1")
	if second.State != entity.TokenStateChecked {
		t.Error("mutating a returned token must not affect the store")
	}
}

func TestMemoryTokenStore_Sweep(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// overdue but still CHECKED: first sweep flips it to EXPIRED
	_ = store.Save(ctx, storedToken("overdue", entity.TokenStateChecked, now.Add(-time.Minute)))
	// terminal and past retention: removed
	_ = store.Save(ctx, storedToken("stale", entity.TokenStateConsumed, now.Add(-time.Hour)))
	// live token: untouched
	_ = store.Save(ctx, storedToken("live", entity.TokenStateChecked, now.Add(time.Minute)))

	removed := store.Sweep(now, 5*time.Minute)
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	overdue, err := store.Get(ctx, "overdue")
	if err != nil {
		t.Fatalf("overdue token should survive the first sweep: %v", err)
	}
	if overdue.State != entity.TokenStateExpired {
		t.Errorf("expected EXPIRED, got %s", overdue.State)
	}

	if _, err := store.Get(ctx, "stale"); !errors.Is(err, entity.ErrTokenNotFound) {
		t.Errorf("stale token should be gone, got %v", err)
	}

	live, err := store.Get(ctx, "live")
	if err != nil || live.State != entity.TokenStateChecked {
		t.Errorf("live token should be untouched, got %+v err %v", live, err)
	}
}

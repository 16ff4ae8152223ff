package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pathwaybio/claire-core/internal/apierr"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesStorageUnavailable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apierr.New(apierr.KindStorageUnavailable, "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return want
	})
	if err != want {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on non-storage error)", calls)
	}
}

func TestDoReturnsLastErrorOnExhaustion(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return apierr.New(apierr.KindStorageUnavailable, "still down")
	})
	if apierr.KindOf(err) != apierr.KindStorageUnavailable {
		t.Fatalf("kind = %v, want StorageUnavailable", apierr.KindOf(err))
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

package healthcheck

import (
	"context"
	"errors"
	"testing"
)

func TestAggregatorReportsHealthyWhenAllChecksPass(t *testing.T) {
	a := New(
		NewPingChecker("storage", func(ctx context.Context) error { return nil }),
		NewPingChecker("auth", func(ctx context.Context) error { return nil }),
	)
	healthy, results := a.Check(context.Background())
	if !healthy {
		t.Fatalf("expected healthy, got %+v", results)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestAggregatorReportsUnhealthyOnAnyFailure(t *testing.T) {
	a := New(
		NewPingChecker("storage", func(ctx context.Context) error { return nil }),
		NewPingChecker("auth", func(ctx context.Context) error { return errors.New("unreachable") }),
	)
	healthy, results := a.Check(context.Background())
	if healthy {
		t.Fatal("expected unhealthy when one checker fails")
	}
	found := false
	for _, r := range results {
		if r.Name == "auth" && !r.Healthy && r.Message == "unreachable" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failing auth result, got %+v", results)
	}
}

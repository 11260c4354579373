package tool

import (
	"context"
	"testing"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

type weatherArgs struct {
	City string `json:"city" validate:"required"`
}

func TestInvokeUnknownToolIsContractError(t *testing.T) {
	r := NewRegistry("test-client", "0.0.1")
	_, err := r.Invoke(context.Background(), Action{ToolName: "does-not-exist"})
	if !errs.Is(err, errs.KindToolContractError) {
		t.Fatalf("expected KindToolContractError, got %v", err)
	}
}

func TestInvokeRejectsMissingRequiredArgument(t *testing.T) {
	r := NewRegistry("test-client", "0.0.1")
	r.Register(Descriptor{Name: "get_weather", ParameterType: weatherArgs{}})

	_, err := r.Invoke(context.Background(), Action{ToolName: "get_weather", Arguments: map[string]any{}})
	if !errs.Is(err, errs.KindToolContractError) {
		t.Fatalf("expected KindToolContractError, got %v", err)
	}
}

func TestInvokePastDeadlineIsContractError(t *testing.T) {
	r := NewRegistry("test-client", "0.0.1")
	r.Register(Descriptor{Name: "get_weather", ParameterType: weatherArgs{}})

	_, err := r.Invoke(context.Background(), Action{
		ToolName:  "get_weather",
		Arguments: map[string]any{"city": "Seattle"},
		Deadline:  time.Now().Add(-time.Minute),
	})
	if !errs.Is(err, errs.KindToolContractError) {
		t.Fatalf("expected KindToolContractError, got %v", err)
	}
}

func TestBudgetAllowsUnlimitedImmediately(t *testing.T) {
	b := NewBudget(0)
	for i := 0; i < 50; i++ {
		if err := b.Allow(context.Background()); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
}

func TestBudgetBlocksOnceExhausted(t *testing.T) {
	b := NewBudget(2)
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := b.Allow(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Allow call %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Allow(ctx); err == nil {
		t.Fatalf("expected budget exhaustion to block")
	}
}

package ioadapter

import (
	"testing"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

func TestRegistryUnknownAdapter(t *testing.T) {
	r := NewDefaultRegistry()

	if _, err := r.GetInput("carrier-pigeon", nil); !errs.Is(err, errs.KindUnknownAdapter) {
		t.Fatalf("expected KindUnknownAdapter, got %v", err)
	}
	if _, err := r.GetOutput("carrier-pigeon", nil); !errs.Is(err, errs.KindUnknownAdapter) {
		t.Fatalf("expected KindUnknownAdapter, got %v", err)
	}
}

func TestRegistryFileAdapterConstructsAndValidatesConfig(t *testing.T) {
	r := NewDefaultRegistry()

	if _, err := r.GetInput("file", map[string]string{}); err == nil {
		t.Fatalf("expected error for missing path")
	}
	if _, err := r.GetInput("file", map[string]string{"path": "/tmp/does-not-matter.wav"}); err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
}

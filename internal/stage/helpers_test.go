package stage_test

import (
	"context"
	"testing"

	"snowline/internal/services"
	"snowline/internal/stage"
)

func TestUnitContextTagsUnit(t *testing.T) {
	ctx := stage.UnitContext(context.Background(), 42, "download")

	if id, ok := services.ProductIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("expected product id 42, got %d (%v)", id, ok)
	}
	if name, ok := services.StageFromContext(ctx); !ok || name != "download" {
		t.Fatalf("expected stage download, got %q", name)
	}
	rid, ok := services.RequestIDFromContext(ctx)
	if !ok || len(rid) != 36 {
		t.Fatalf("expected uuid correlation id, got %q", rid)
	}

	again := stage.UnitContext(ctx, 42, "process")
	if kept, _ := services.RequestIDFromContext(again); kept != rid {
		t.Fatalf("correlation id replaced: %q != %q", kept, rid)
	}
	if name, _ := services.StageFromContext(again); name != "process" {
		t.Fatalf("expected stage process, got %q", name)
	}
}

func TestHealthConstructors(t *testing.T) {
	if h := stage.Healthy("download"); !h.Ready || h.Name != "download" {
		t.Fatalf("unexpected healthy record %+v", h)
	}
	if h := stage.Unhealthy("process", "data dir missing"); h.Ready || h.Detail != "data dir missing" {
		t.Fatalf("unexpected unhealthy record %+v", h)
	}
}

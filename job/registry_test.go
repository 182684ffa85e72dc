package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())

	r.Register("export", func(_ context.Context, _ []byte, _ ProgressFunc) ([]byte, error) {
		return []byte(`"done"`), nil
	})

	h, ok := r.Get("export")
	if !ok {
		t.Fatal("Get returned false for registered type")
	}
	out, err := h(context.Background(), nil, func(int) {})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(out) != `"done"` {
		t.Fatalf("handler result = %s", out)
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get returned true for unregistered type")
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())

	r.Register("dup", func(_ context.Context, _ []byte, _ ProgressFunc) ([]byte, error) {
		return []byte("first"), nil
	})
	r.Register("dup", func(_ context.Context, _ []byte, _ ProgressFunc) ([]byte, error) {
		return []byte("second"), nil
	})

	h, _ := r.Get("dup")
	out, _ := h(context.Background(), nil, func(int) {})
	if string(out) != "second" {
		t.Fatalf("got %q, want the last-registered handler", out)
	}

	if len(r.Types()) != 1 {
		t.Fatalf("Types() = %v, want exactly one entry", r.Types())
	}
}

func TestRegisterDefinitionDecodesPayload(t *testing.T) {
	t.Parallel()

	type importReq struct {
		File string `json:"file"`
	}
	type importRes struct {
		Rows int `json:"rows"`
	}

	r := NewRegistry(testLogger())
	RegisterDefinition(r, NewDefinition("csv-import",
		func(_ context.Context, req importReq, progress ProgressFunc) (importRes, error) {
			if req.File != "stock.csv" {
				return importRes{}, errors.New("unexpected payload")
			}
			progress(50)
			return importRes{Rows: 42}, nil
		}))

	h, ok := r.Get("csv-import")
	if !ok {
		t.Fatal("definition not registered")
	}

	var lastPct int
	out, err := h(context.Background(), []byte(`{"file":"stock.csv"}`), func(pct int) { lastPct = pct })
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if lastPct != 50 {
		t.Fatalf("progress = %d, want 50", lastPct)
	}

	var res importRes
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Rows != 42 {
		t.Fatalf("rows = %d, want 42", res.Rows)
	}
}

func TestRegisterDefinitionBadPayload(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())
	RegisterDefinition(r, NewDefinition("typed",
		func(_ context.Context, _ struct{ N int }, _ ProgressFunc) (struct{}, error) {
			return struct{}{}, nil
		}))

	h, _ := r.Get("typed")
	if _, err := h(context.Background(), []byte(`{invalid`), func(int) {}); err == nil {
		t.Fatal("expected unmarshal error for malformed payload")
	}
}

func TestRegisterDefinitionEmptyPayload(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())
	RegisterDefinition(r, NewDefinition("noop",
		func(_ context.Context, _ struct{}, _ ProgressFunc) (map[string]bool, error) {
			return map[string]bool{"ok": true}, nil
		}))

	h, _ := r.Get("noop")
	out, err := h(context.Background(), nil, func(int) {})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Fatalf("result = %s", out)
	}
}

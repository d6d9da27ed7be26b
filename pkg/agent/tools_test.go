package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/toko/pkg/errorsx"
	"github.com/harunnryd/toko/pkg/store"
)

func newSeededStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		Path:        filepath.Join(t.TempDir(), "toko.db"),
		BusyTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := st.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return st
}

func TestHandleToolFindProduct(t *testing.T) {
	tools := NewInventoryTools(newSeededStore(t), nil)

	result, err := tools.HandleTool(context.Background(), "find_product", map[string]any{"name": "iphone"})
	if err != nil {
		t.Fatalf("handle tool: %v", err)
	}
	var payload struct {
		Query    string          `json:"query"`
		Count    int             `json:"count"`
		Products []store.Product `json:"products"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if payload.Query != "iphone" || payload.Count != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Products[0].Name != "iPhone 15" {
		t.Fatalf("unexpected product %+v", payload.Products[0])
	}
}

func TestHandleToolFindProductEmptyResult(t *testing.T) {
	tools := NewInventoryTools(newSeededStore(t), nil)

	result, err := tools.HandleTool(context.Background(), "find_product", map[string]any{"name": "zzz"})
	if err != nil {
		t.Fatalf("handle tool: %v", err)
	}
	var payload struct {
		Count    int             `json:"count"`
		Products []store.Product `json:"products"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if payload.Count != 0 || len(payload.Products) != 0 {
		t.Fatalf("expected empty result, got %+v", payload)
	}
}

func TestHandleToolListLowStock(t *testing.T) {
	tools := NewInventoryTools(newSeededStore(t), nil)

	// Model arguments arrive as JSON numbers.
	result, err := tools.HandleTool(context.Background(), "list_low_stock", map[string]any{"threshold": float64(3)})
	if err != nil {
		t.Fatalf("handle tool: %v", err)
	}
	var payload struct {
		Threshold int             `json:"threshold"`
		Count     int             `json:"count"`
		Products  []store.Product `json:"products"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if payload.Threshold != 3 || payload.Count != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestHandleToolUpdateStock(t *testing.T) {
	tools := NewInventoryTools(newSeededStore(t), nil)

	result, err := tools.HandleTool(context.Background(), "update_stock", map[string]any{
		"product_id": float64(1),
		"delta":      float64(-2),
	})
	if err != nil {
		t.Fatalf("handle tool: %v", err)
	}
	var payload struct {
		Success bool           `json:"success"`
		Product *store.Product `json:"product"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !payload.Success || payload.Product == nil || payload.Product.Stock != 3 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestHandleToolUpdateStockUnknownID(t *testing.T) {
	tools := NewInventoryTools(newSeededStore(t), nil)

	result, err := tools.HandleTool(context.Background(), "update_stock", map[string]any{
		"product_id": float64(999),
		"delta":      float64(5),
	})
	if err != nil {
		t.Fatalf("handle tool: %v", err)
	}
	var payload struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if payload.Success {
		t.Fatalf("expected success=false for unknown id")
	}
}

func TestHandleToolArgumentValidation(t *testing.T) {
	tools := NewInventoryTools(newSeededStore(t), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing name", "find_product", map[string]any{}},
		{"empty name", "find_product", map[string]any{"name": ""}},
		{"negative threshold", "list_low_stock", map[string]any{"threshold": float64(-1)}},
		{"fractional threshold", "list_low_stock", map[string]any{"threshold": 2.5}},
		{"missing delta", "update_stock", map[string]any{"product_id": float64(1)}},
		{"fractional delta", "update_stock", map[string]any{"product_id": float64(1), "delta": 1.5}},
		{"zero product id", "update_stock", map[string]any{"product_id": float64(0), "delta": float64(1)}},
		{"string id", "update_stock", map[string]any{"product_id": "one", "delta": float64(1)}},
	}
	for _, tc := range cases {
		_, err := tools.HandleTool(ctx, tc.tool, tc.args)
		if !errorsx.HasReason(err, errorsx.ReasonToolArgs) {
			t.Fatalf("%s: expected tool_args reason, got %v", tc.name, err)
		}
	}
}

func TestHandleToolUnknownName(t *testing.T) {
	tools := NewInventoryTools(newSeededStore(t), nil)

	_, err := tools.HandleTool(context.Background(), "drop_table", map[string]any{})
	if !errorsx.HasReason(err, errorsx.ReasonToolUnknown) {
		t.Fatalf("expected tool_unknown reason, got %v", err)
	}
}

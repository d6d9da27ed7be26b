package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/harunnryd/toko/pkg/errorsx"
	"github.com/harunnryd/toko/pkg/llm"
	"github.com/harunnryd/toko/pkg/store"
)

const (
	toolFindProduct  = "find_product"
	toolListLowStock = "list_low_stock"
	toolUpdateStock  = "update_stock"
)

// InventoryTools exposes the product store to the model as three callable
// tools. The set is fixed for the process lifetime.
type InventoryTools struct {
	store    *store.Store
	validate *validator.Validate
	log      *slog.Logger
}

func NewInventoryTools(st *store.Store, log *slog.Logger) *InventoryTools {
	if log == nil {
		log = slog.Default()
	}
	return &InventoryTools{
		store:    st,
		validate: validator.New(),
		log:      log,
	}
}

func (r *InventoryTools) Tools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        toolFindProduct,
			Description: "Find products by name. Matches any product whose name contains the given text, case-insensitively.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Part of or the full product name, e.g. 'iPhone'.",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        toolListLowStock,
			Description: "List products whose stock is below the given threshold.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"threshold": map[string]any{
						"type":        "integer",
						"description": "Stock threshold, e.g. 3.",
					},
				},
				"required": []string{"threshold"},
			},
		},
		{
			Name:        toolUpdateStock,
			Description: "Apply a signed stock change to a product. delta=-2 means two units were sold.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{
						"type":        "integer",
						"description": "Product id in the catalog.",
					},
					"delta": map[string]any{
						"type":        "integer",
						"description": "Stock change, negative for sales.",
					},
				},
				"required": []string{"product_id", "delta"},
			},
		},
	}
}

type findProductArgs struct {
	Name string `mapstructure:"name" validate:"required"`
}

type listLowStockArgs struct {
	Threshold *int64 `mapstructure:"threshold" validate:"required,gte=0"`
}

type updateStockArgs struct {
	ProductID *int64 `mapstructure:"product_id" validate:"required,gt=0"`
	Delta     *int64 `mapstructure:"delta" validate:"required"`
}

// HandleTool dispatches on the tool name with an explicit exhaustive switch.
// Argument failures come back reason-coded tool_args so the caller can feed
// them to the model as a tool-error result; an unknown name is tool_unknown.
func (r *InventoryTools) HandleTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case toolFindProduct:
		var in findProductArgs
		if err := r.decodeArgs(args, &in); err != nil {
			return "", err
		}
		products, err := r.store.FindProducts(ctx, in.Name)
		if err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonToolFailed)
		}
		return marshalResult(map[string]any{
			"query":    in.Name,
			"count":    len(products),
			"products": products,
		})

	case toolListLowStock:
		var in listLowStockArgs
		if err := r.decodeArgs(args, &in); err != nil {
			return "", err
		}
		products, err := r.store.ListLowStock(ctx, *in.Threshold)
		if err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonToolFailed)
		}
		return marshalResult(map[string]any{
			"threshold": *in.Threshold,
			"count":     len(products),
			"products":  products,
		})

	case toolUpdateStock:
		var in updateStockArgs
		if err := r.decodeArgs(args, &in); err != nil {
			return "", err
		}
		product, err := r.store.UpdateStock(ctx, *in.ProductID, *in.Delta)
		if err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonToolFailed)
		}
		if product == nil {
			return marshalResult(map[string]any{
				"success": false,
				"message": fmt.Sprintf("no product with id=%d", *in.ProductID),
			})
		}
		r.log.Info("stock_updated", "product_id", product.ID, "delta", *in.Delta, "stock", product.Stock)
		return marshalResult(map[string]any{
			"success": true,
			"message": "stock updated",
			"product": product,
		})

	default:
		return "", errorsx.Wrap(fmt.Errorf("unknown tool: %s", name), errorsx.ReasonToolUnknown)
	}
}

func (r *InventoryTools) decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     out,
		DecodeHook: integralNumberHook,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return errorsx.Wrap(fmt.Errorf("decode arguments: %w", err), errorsx.ReasonToolArgs)
	}
	if err := r.validate.Struct(out); err != nil {
		return errorsx.Wrap(fmt.Errorf("validate arguments: %w", err), errorsx.ReasonToolArgs)
	}
	return nil
}

// integralNumberHook rejects fractional JSON numbers bound to integer
// parameters instead of silently truncating them.
func integralNumberHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Float64 {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		f := data.(float64)
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected an integer, got %v", f)
		}
	}
	return data, nil
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("marshal tool result: %w", err), errorsx.ReasonToolFailed)
	}
	return string(b), nil
}

var _ llm.ToolRegistry = (*InventoryTools)(nil)

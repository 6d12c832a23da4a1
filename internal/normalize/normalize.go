// Package normalize maps raw upstream JSON objects onto canonical column
// sets using declarative field tables. It performs no I/O and is total:
// malformed input yields a nil column value, never an error.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Coercion selects how a raw value is converted before storage.
type Coercion string

// Supported coercions.
const (
	AsIs     Coercion = ""         // passthrough; lists/objects are JSON-serialized
	Int      Coercion = "int"      // integer cast or null
	Decimal  Coercion = "decimal"  // decimal cast for numeric(15,2) columns, or null
	Quantity Coercion = "quantity" // decimal cast for numeric(15,4) columns, or null
	Bool     Coercion = "bool"     // boolean cast accepting string truthy tokens
	JSON     Coercion = "json"     // always serialized to a JSON string
)

// Magnitude bounds per destination column type. Anything at or beyond the
// bound is stored as null instead of tripping a constraint failure at write
// time: numeric(15,2) overflows at 10^13, numeric(15,4) at 10^11.
var (
	maxMoneyAbs    = decimal.New(1, 13)
	maxQuantityAbs = decimal.New(1, 11)
)

// Field is one (source path, destination column, coercion) triple. Path
// addresses nested structure with dots; a missing intermediate key yields
// null for the whole field.
type Field struct {
	Path   string
	Column string
	Coerce Coercion
}

// Table is an ordered field mapping for one destination table.
type Table []Field

// Columns returns the destination column names in table order.
func (t Table) Columns() []string {
	cols := make([]string, len(t))
	for i, f := range t {
		cols[i] = f.Column
	}
	return cols
}

// Apply converts one raw object into a row of values aligned with Columns().
func (t Table) Apply(raw map[string]any) []any {
	row := make([]any, len(t))
	for i, f := range t {
		row[i] = coerce(lookup(raw, f.Path), f.Coerce)
	}
	return row
}

// lookup walks a dotted path through nested maps, returning nil on any
// missing or non-object intermediate.
func lookup(raw map[string]any, path string) any {
	if raw == nil {
		return nil
	}
	parts := strings.Split(path, ".")
	var cur any = raw
	for _, part := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func coerce(v any, c Coercion) any {
	if v == nil {
		return nil
	}
	switch c {
	case Int:
		return toInt(v)
	case Decimal:
		return toDecimal(v, maxMoneyAbs)
	case Quantity:
		return toDecimal(v, maxQuantityAbs)
	case Bool:
		return toBool(v)
	case JSON:
		return toJSON(v)
	default:
		return passthrough(v)
	}
}

func toInt(v any) any {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil
		}
		return i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil
		}
		return i
	default:
		return nil
	}
}

func toDecimal(v any, maxAbs decimal.Decimal) any {
	var d decimal.Decimal
	switch n := v.(type) {
	case float64:
		d = decimal.NewFromFloat(n)
	case int64:
		d = decimal.NewFromInt(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case json.Number:
		parsed, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return nil
		}
		d = parsed
	default:
		return nil
	}
	if d.Abs().GreaterThanOrEqual(maxAbs) {
		return nil
	}
	return d.String()
}

var truthyTokens = map[string]bool{
	"true": true, "t": true, "1": true, "yes": true, "y": true, "sim": true, "s": true,
	"false": false, "f": false, "0": false, "no": false, "n": false, "nao": false, "não": false,
}

func toBool(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		val, ok := truthyTokens[strings.ToLower(strings.TrimSpace(b))]
		if !ok {
			return nil
		}
		return val
	default:
		return nil
	}
}

func toJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

// passthrough keeps scalars as-is but serializes composite values so they
// can land in a text column without surprising the driver.
func passthrough(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return toJSON(v)
	default:
		return v
	}
}

package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Args holds arguments coerced to their declared parameter types: string,
// float64, int64 or bool.
type Args map[string]any

// String returns a string argument or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Float returns a number argument or 0.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns an integer argument or 0.
func (a Args) Int(name string) int64 {
	switch v := a[name].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns a boolean argument or false.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Has reports whether the argument is present.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func coerceArgs(desc Descriptor, raw map[string]any) (Args, error) {
	out := make(Args, len(desc.Parameters))
	for _, p := range desc.Parameters {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, &InvalidArgumentError{Tool: desc.Name, Parameter: p.Name, Reason: "required parameter is missing"}
			}
			if p.Default != nil {
				dv, err := coerce(p.Type, p.Default)
				if err != nil {
					return nil, &InvalidArgumentError{Tool: desc.Name, Parameter: p.Name, Reason: "bad default: " + err.Error()}
				}
				out[p.Name] = dv
			}
			continue
		}

		cv, err := coerce(p.Type, v)
		if err != nil {
			return nil, &InvalidArgumentError{Tool: desc.Name, Parameter: p.Name, Reason: err.Error()}
		}
		out[p.Name] = cv
	}
	return out, nil
}

func coerce(t ParamType, value any) (any, error) {
	switch t {
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		}
	case TypeNumber:
		f, ok := toFloat(value)
		if ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
	case TypeInteger:
		f, ok := toFloat(value)
		if ok && math.Trunc(f) == f && f >= -(1<<63) && f < 1<<63 {
			return int64(f), nil
		}
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("expected %s but got %T", t, value)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

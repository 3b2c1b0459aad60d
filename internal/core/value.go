// SPDX-License-Identifier: LGPL-3.0-or-later

package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType constrains the values a channel accepts. Converted values are
// normalised to float64, int64, bool or string respectively.
type ValueType string

const (
	TypeFloat  ValueType = "float"
	TypeInt    ValueType = "int"
	TypeBool   ValueType = "bool"
	TypeString ValueType = "string"
)

// ParseValueType resolves a configured type name, defaulting to float.
func ParseValueType(name string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "float", "float64", "double":
		return TypeFloat, nil
	case "int", "int64", "integer":
		return TypeInt, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "str", "string":
		return TypeString, nil
	}
	return "", fmt.Errorf("unknown value type %q", name)
}

// Convert coerces a raw value into the canonical representation of the type.
func (t ValueType) Convert(value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("cannot convert nil value")
	}
	switch t {
	case TypeFloat:
		return toFloat(value)
	case TypeInt:
		return toInt(value)
	case TypeBool:
		return toBool(value)
	case TypeString:
		return toString(value), nil
	}
	return nil, fmt.Errorf("unknown value type %q", string(t))
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float value %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("invalid float value of type %T", value)
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid int value %q", v)
		}
		return i, nil
	}
	return 0, fmt.Errorf("invalid int value of type %T", value)
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("invalid bool value %q", v)
		}
		return b, nil
	}
	return false, fmt.Errorf("invalid bool value of type %T", value)
}

func toString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

package structured

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Mismatch 是一条路径限定的形状不匹配。
type Mismatch struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (m *Mismatch) Error() string {
	if m.Path == "" {
		return m.Message
	}
	return fmt.Sprintf("%s: %s", m.Path, m.Message)
}

// ValidationError 聚合一次校验发现的全部不匹配。
type ValidationError struct {
	Mismatches []Mismatch `json:"mismatches"`
}

func (e *ValidationError) Error() string {
	switch len(e.Mismatches) {
	case 0:
		return "shape validation failed"
	case 1:
		return e.Mismatches[0].Error()
	}
	msgs := make([]string, len(e.Mismatches))
	for i := range e.Mismatches {
		msgs[i] = e.Mismatches[i].Error()
	}
	return fmt.Sprintf("%d shape mismatches: %s", len(e.Mismatches), strings.Join(msgs, "; "))
}

// Validate 递归检查 value 是否满足 shape。不满足时返回
// *ValidationError, 其中每条不匹配都带字段路径。越界数值是
// 不匹配, 从不截断修正。
func Validate(shape *Shape, value any) error {
	if shape == nil {
		return nil
	}
	var mismatches []Mismatch
	validateValue(shape, value, "", &mismatches)
	if len(mismatches) > 0 {
		return &ValidationError{Mismatches: mismatches}
	}
	return nil
}

func validateValue(s *Shape, value any, path string, out *[]Mismatch) {
	switch s.Kind {
	case KindString:
		str, ok := value.(string)
		if !ok {
			report(out, path, fmt.Sprintf("expected string, got %s", kindOf(value)))
			return
		}
		if len(s.Enum) > 0 && !enumHas(s.Enum, str) {
			report(out, path, fmt.Sprintf("value %q must be one of: %s", str, strings.Join(s.Enum, ", ")))
		}

	case KindNumber:
		num, ok := toFloat64(value)
		if !ok {
			report(out, path, fmt.Sprintf("expected number, got %s", kindOf(value)))
			return
		}
		checkBounds(s, num, path, out)

	case KindInteger:
		num, ok := toFloat64(value)
		if !ok {
			report(out, path, fmt.Sprintf("expected integer, got %s", kindOf(value)))
			return
		}
		if num != math.Trunc(num) {
			report(out, path, fmt.Sprintf("expected integer, got %v", num))
			return
		}
		checkBounds(s, num, path, out)

	case KindBoolean:
		if _, ok := value.(bool); !ok {
			report(out, path, fmt.Sprintf("expected boolean, got %s", kindOf(value)))
		}

	case KindList:
		arr, ok := value.([]any)
		if !ok {
			report(out, path, fmt.Sprintf("expected array, got %s", kindOf(value)))
			return
		}
		for i, item := range arr {
			validateValue(s.Elem, item, fmt.Sprintf("%s[%d]", path, i), out)
		}

	case KindMapping:
		obj, ok := value.(map[string]any)
		if !ok {
			report(out, path, fmt.Sprintf("expected object, got %s", kindOf(value)))
			return
		}
		for key, item := range obj {
			validateValue(s.Elem, item, joinPath(path, key), out)
		}

	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			report(out, path, fmt.Sprintf("expected object, got %s", kindOf(value)))
			return
		}
		for _, f := range s.Fields {
			fieldPath := joinPath(path, f.Name)
			val, present := obj[f.Name]
			if !present || val == nil {
				// 可选字段的缺失与显式 null 等价。
				if !f.Optional {
					report(out, fieldPath, "required field is missing")
				}
				continue
			}
			validateValue(f.Shape, val, fieldPath, out)
		}
		// 多余字段不报错: 模型附带的额外键宽容读取。

	default:
		report(out, path, fmt.Sprintf("unknown shape kind %q", s.Kind))
	}
}

func checkBounds(s *Shape, num float64, path string, out *[]Mismatch) {
	if s.Min != nil && num < *s.Min {
		report(out, path, fmt.Sprintf("value %v is less than minimum %v", num, *s.Min))
	}
	if s.Max != nil && num > *s.Max {
		report(out, path, fmt.Sprintf("value %v exceeds maximum %v", num, *s.Max))
	}
}

func report(out *[]Mismatch, path, message string) {
	*out = append(*out, Mismatch{Path: path, Message: message})
}

func enumHas(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// kindOf 给不匹配消息一个 JSON 视角的类型名, 而不是 Go 类型名。
func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// joinPath 拼接字段路径, 根路径为空串。
func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

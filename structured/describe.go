package structured

import (
	"fmt"
	"strconv"
	"strings"
)

// Describe renders the formatting instructions appended to a prompt:
// numbered rules plus an indented sketch of the expected shape. The
// sketch uses pseudo-type placeholders and parenthetical constraint
// notes rather than a formal schema dialect.
func Describe(shape *Shape) string {
	if shape == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You must answer with a single JSON value.\n\n")
	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")
	sb.WriteString("1. Respond with JSON matching the expected shape below.\n")
	sb.WriteString("2. Do NOT include any text before or after the JSON.\n")
	sb.WriteString("3. Do NOT wrap the JSON in markdown code blocks.\n")
	sb.WriteString("4. Every field not marked optional must be present with a valid value.\n")
	sb.WriteString("5. Follow every constraint exactly (allowed values, numeric bounds). The parenthetical notes are guidance and must not appear in your answer.\n\n")
	sb.WriteString("Expected shape:\n")
	writeShape(&sb, shape, "", nil)
	sb.WriteString("\n\nRespond with ONLY the JSON value.")
	return sb.String()
}

// writeShape 递归渲染形状草图。extra 是调用方追加的注记
// (如字段级 optional), 与形状自身的约束注记合并。
func writeShape(sb *strings.Builder, s *Shape, indent string, extra []string) {
	switch s.Kind {
	case KindObject:
		inner := indent + "  "
		sb.WriteString("{\n")
		for i, f := range s.Fields {
			fmt.Fprintf(sb, "%s%q: ", inner, f.Name)
			var fieldNotes []string
			if f.Optional {
				fieldNotes = append(fieldNotes, "optional")
			}
			writeShape(sb, f.Shape, inner, fieldNotes)
			if i < len(s.Fields)-1 {
				sb.WriteString(",")
			}
			sb.WriteString("\n")
		}
		sb.WriteString(indent + "}")
		writeNotes(sb, mergeNotes(s, extra))

	case KindList:
		if isScalar(s.Elem) {
			sb.WriteString("[")
			writeShape(sb, s.Elem, indent, nil)
			sb.WriteString(", ...]")
		} else {
			inner := indent + "  "
			sb.WriteString("[\n" + inner)
			writeShape(sb, s.Elem, inner, nil)
			sb.WriteString(",\n" + inner + "...\n" + indent + "]")
		}
		writeNotes(sb, mergeNotes(s, extra))

	case KindMapping:
		sb.WriteString(`{"<key>": `)
		writeShape(sb, s.Elem, indent, nil)
		sb.WriteString(", ...}")
		writeNotes(sb, mergeNotes(s, extra))

	default:
		sb.WriteString(scalarBase(s))
		writeNotes(sb, mergeNotes(s, extra))
	}
}

func isScalar(s *Shape) bool {
	switch s.Kind {
	case KindString, KindNumber, KindInteger, KindBoolean:
		return true
	}
	return false
}

func scalarBase(s *Shape) string {
	if s.Kind == KindBoolean {
		return "true or false"
	}
	return string(s.Kind)
}

// mergeNotes 汇总一个形状的注记: 约束在前, 调用方注记居中, 描述在后。
func mergeNotes(s *Shape, extra []string) []string {
	var notes []string
	switch s.Kind {
	case KindString:
		if len(s.Enum) > 0 {
			quoted := make([]string, len(s.Enum))
			for i, v := range s.Enum {
				quoted[i] = strconv.Quote(v)
			}
			notes = append(notes, "one of "+strings.Join(quoted, " | "))
		}
	case KindNumber, KindInteger:
		switch {
		case s.Min != nil && s.Max != nil:
			notes = append(notes, fmt.Sprintf("between %s and %s, inclusive", formatBound(*s.Min), formatBound(*s.Max)))
		case s.Min != nil:
			notes = append(notes, "at least "+formatBound(*s.Min))
		case s.Max != nil:
			notes = append(notes, "at most "+formatBound(*s.Max))
		}
	}
	notes = append(notes, extra...)
	if s.Description != "" {
		notes = append(notes, s.Description)
	}
	return notes
}

func writeNotes(sb *strings.Builder, notes []string) {
	if len(notes) == 0 {
		return
	}
	sb.WriteString(" (" + strings.Join(notes, "; ") + ")")
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

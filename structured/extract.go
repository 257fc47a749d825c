package structured

import (
	"errors"
	"regexp"
	"strings"
)

// 匹配 ```json ... ``` 或 ``` ... ``` 栅栏块, 取第一块的内容。
var fenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// Extract locates the structured payload inside raw model output.
// Markdown code fences are stripped first; then the first balanced
// {...} or [...] region wins. Text with neither is returned trimmed,
// so bare scalar answers ("0.42", "true") still parse downstream.
func Extract(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", errors.New("empty response")
	}

	if strings.Contains(text, "```") {
		if m := fenceRE.FindStringSubmatch(text); len(m) > 1 {
			text = strings.TrimSpace(m[1])
		}
	}

	if payload := firstBalanced(text); payload != "" {
		return payload, nil
	}
	return text, nil
}

// firstBalanced 返回自首个 '{' 或 '[' 起配平的子串, 跳过字符串
// 字面量内部的括号。不配平时返回空串。
func firstBalanced(text string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if text[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ExtractBoolean resolves a YES/NO answer by last occurrence: the
// keyword appearing later in the text wins, so "No. Wait, YES" is
// true. Output with neither keyword is a shape mismatch.
func ExtractBoolean(raw string) (bool, error) {
	upper := strings.ToUpper(raw)
	yes := strings.LastIndex(upper, "YES")
	no := strings.LastIndex(upper, "NO")
	if yes < 0 && no < 0 {
		return false, errors.New("answer contains neither YES nor NO")
	}
	return yes > no, nil
}

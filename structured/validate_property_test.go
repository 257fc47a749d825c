package structured

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// 对任何缺失的必填字段, 不匹配项应带具体字段路径与原因。
func TestProperty_Validate_RequiredFieldPath(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fieldName := rapid.StringMatching(`[a-z]{3,10}`).Draw(rt, "fieldName")
		shape := Object(F(fieldName, String()))

		err := Validate(shape, map[string]any{})
		require.Error(t, err, "Missing required field should cause error")

		verr, ok := err.(*ValidationError)
		require.True(t, ok, "Error should be ValidationError type")
		require.NotEmpty(t, verr.Mismatches, "Should have at least one mismatch")

		assert.Equal(t, fieldName, verr.Mismatches[0].Path, "Mismatch path should be the field name")
		assert.Contains(t, verr.Mismatches[0].Message, "required field is missing")
	})
}

// 嵌套字段的类型错误要带上完整路径 parent.child。
func TestProperty_Validate_NestedFieldPath(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		parentField := rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "parentField")
		childField := rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "childField")

		shape := Object(F(parentField, Object(F(childField, Boolean()))))

		value := map[string]any{
			parentField: map[string]any{
				childField: "not_a_boolean",
			},
		}

		err := Validate(shape, value)
		require.Error(t, err, "Type mismatch at nested level should cause error")

		verr, ok := err.(*ValidationError)
		require.True(t, ok)
		require.NotEmpty(t, verr.Mismatches)

		expectedPath := parentField + "." + childField
		assert.Equal(t, expectedPath, verr.Mismatches[0].Path, "Mismatch path should show full nesting")
		assert.Contains(t, verr.Mismatches[0].Message, "expected boolean", "Message should mention expected kind")
	})
}

// 数值越界一律判为形状不匹配, 绝不截断到边界; 边界值本身合法。
func TestProperty_Validate_BoundsRejectNeverClamp(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lo := float64(rapid.IntRange(0, 50).Draw(rt, "lo"))
		hi := lo + float64(rapid.IntRange(1, 50).Draw(rt, "hi"))
		shape := NumberBetween(lo, hi)

		// 区间内任意值(含两端)通过。
		inRange := lo + (hi-lo)*float64(rapid.IntRange(0, 100).Draw(rt, "frac"))/100
		assert.NoError(t, Validate(shape, inRange), "In-range value should pass")
		assert.NoError(t, Validate(shape, lo), "Lower bound is inclusive")
		assert.NoError(t, Validate(shape, hi), "Upper bound is inclusive")

		// 越界值直接拒绝。
		above := hi + float64(rapid.IntRange(1, 100).Draw(rt, "above"))
		err := Validate(shape, above)
		require.Error(t, err, "Value above maximum should be rejected, never clamped")
		assert.Contains(t, err.Error(), "exceeds maximum")

		below := lo - float64(rapid.IntRange(1, 100).Draw(rt, "below"))
		err = Validate(shape, below)
		require.Error(t, err, "Value below minimum should be rejected, never clamped")
		assert.Contains(t, err.Error(), "less than minimum")
	})
}

// 列表元素错误要带数组下标记法 field[index]。
func TestProperty_Validate_ListItemPath(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		listField := rapid.StringMatching(`[a-z]{3,8}`).Draw(rt, "listField")
		badIndex := rapid.IntRange(0, 5).Draw(rt, "badIndex")

		shape := Object(F(listField, ListOf(Integer())))

		items := make([]any, badIndex+1)
		for i := 0; i < badIndex; i++ {
			items[i] = i * 10
		}
		items[badIndex] = "not_an_integer"

		err := Validate(shape, map[string]any{listField: items})
		require.Error(t, err, "Invalid list item should cause error")

		verr, ok := err.(*ValidationError)
		require.True(t, ok)
		require.NotEmpty(t, verr.Mismatches)

		expectedPath := fmt.Sprintf("%s[%d]", listField, badIndex)
		assert.Equal(t, expectedPath, verr.Mismatches[0].Path, "Mismatch path should carry the list index")
	})
}

// 任意 JSON 对象混进散文里, Extract 都能原样取回并通过校验。
func TestProperty_Extract_RoundTripThroughProse(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fieldName := rapid.StringMatching(`[a-z]{3,10}`).Draw(rt, "fieldName")
		fieldValue := rapid.IntRange(-1000, 1000).Draw(rt, "fieldValue")

		payload, err := json.Marshal(map[string]any{fieldName: fieldValue})
		require.NoError(t, err)

		prose := fmt.Sprintf("Sure, here is the value you asked for:\n\n%s\n\nLet me know if you need anything else.", payload)

		extracted, err := Extract(prose)
		require.NoError(t, err, "Extract should find the payload inside prose")
		assert.Equal(t, string(payload), extracted, "Extract should return the payload byte for byte")

		var parsed any
		require.NoError(t, json.Unmarshal([]byte(extracted), &parsed))
		assert.NoError(t, Validate(Object(F(fieldName, Integer())), parsed))
	})
}

// 围栏包裹的负载与裸负载提取结果一致。
func TestProperty_Extract_FenceAgnostic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fieldName := rapid.StringMatching(`[a-z]{3,10}`).Draw(rt, "fieldName")
		fieldValue := rapid.StringMatching(`[a-z ]{1,20}`).Draw(rt, "fieldValue")

		payload, err := json.Marshal(map[string]any{fieldName: fieldValue})
		require.NoError(t, err)

		bare, err := Extract(string(payload))
		require.NoError(t, err)

		fenced, err := Extract("```json\n" + string(payload) + "\n```")
		require.NoError(t, err)

		assert.Equal(t, bare, fenced, "Fenced and bare payloads should extract identically")
		assert.True(t, strings.HasPrefix(bare, "{"), "Extracted payload should be the object itself")
	})
}

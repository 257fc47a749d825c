package structured

// Kind 标识 Shape 的结构变体。集合是封闭的: 校验器与渲染器
// 对每个变体都有穷举分支, 新变体必须同时扩展两处。
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindList    Kind = "list"
	KindMapping Kind = "mapping"
	KindObject  Kind = "object"
)

// Shape 描述期望结果的结构形状。零值不可用, 一律经构造函数创建。
type Shape struct {
	Kind        Kind
	Description string

	// 字符串枚举约束, 仅 KindString 使用。
	Enum []string

	// 数值闭区间边界, 仅 KindNumber/KindInteger 使用。
	Min *float64
	Max *float64

	// 元素形状: KindList 的元素, KindMapping 的值。
	Elem *Shape

	// KindObject 的具名字段, 按声明顺序渲染。
	Fields []Field
}

// Field 是对象形状里的一个具名字段。
type Field struct {
	Name     string
	Shape    *Shape
	Optional bool
}

// String 构造字符串形状。
func String() *Shape {
	return &Shape{Kind: KindString}
}

// Number 构造无边界的数值形状。
func Number() *Shape {
	return &Shape{Kind: KindNumber}
}

// NumberBetween 构造闭区间 [lo, hi] 内的数值形状。
func NumberBetween(lo, hi float64) *Shape {
	return &Shape{Kind: KindNumber, Min: &lo, Max: &hi}
}

// Probability 构造 [0, 1] 内的数值形状。
func Probability() *Shape {
	return NumberBetween(0, 1)
}

// Integer 构造整数形状。带小数部分的数值视为不匹配。
func Integer() *Shape {
	return &Shape{Kind: KindInteger}
}

// Boolean 构造布尔形状。
func Boolean() *Shape {
	return &Shape{Kind: KindBoolean}
}

// ListOf 构造元素同构的列表形状。
func ListOf(elem *Shape) *Shape {
	return &Shape{Kind: KindList, Elem: elem}
}

// MapOf 构造键为字符串、值同构的映射形状。
func MapOf(value *Shape) *Shape {
	return &Shape{Kind: KindMapping, Elem: value}
}

// Object 构造具名字段的对象形状。
func Object(fields ...Field) *Shape {
	return &Shape{Kind: KindObject, Fields: fields}
}

// F 声明一个必填字段。
func F(name string, shape *Shape) Field {
	return Field{Name: name, Shape: shape}
}

// Opt 声明一个可选字段。缺失或为 null 时跳过校验。
func Opt(name string, shape *Shape) Field {
	return Field{Name: name, Shape: shape, Optional: true}
}

// WithDescription 设置渲染进格式说明的描述, 返回自身以便链式调用。
func (s *Shape) WithDescription(desc string) *Shape {
	s.Description = desc
	return s
}

// WithEnum 限定字符串形状的取值集合。
func (s *Shape) WithEnum(values ...string) *Shape {
	s.Enum = values
	return s
}

// WithMin 设置数值下界(含)。
func (s *Shape) WithMin(min float64) *Shape {
	s.Min = &min
	return s
}

// WithMax 设置数值上界(含)。
func (s *Shape) WithMax(max float64) *Shape {
	s.Max = &max
	return s
}

// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 启发式估算器。
// 估算结果用于调用前的限流准入与预算预检，
// 以及在 Provider 未返回用量时的成本回退计算。
package tokenizer

// Copyright (c) LLMFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 LLMFlow 各包共享的基础类型。

types 是最底层的公共包，不依赖任何其他内部包，为 budget、ratelimit、
envelope、structured、provider 等上层模块提供统一的错误契约。

# 错误体系

  - ErrorCode — 统一错误码（ADMISSION_TIMEOUT、BUDGET_EXCEEDED 等）
  - Error     — 结构化错误：错误码、HTTP 状态、Retryable 标记，
    以及终态错误必须携带的上下文（endpoint、尝试次数、作用域链）

错误通过 NewError(code, msg).WithCause(...).WithEndpoint(...) 链式构建，
兼容 errors.Is / errors.As 解包。瞬态失败在调用信封内部重试，永远不会
单独上浮；上浮的终态错误携带完整的诊断上下文。
*/
package types

/*
Package handlers 提供 LLMFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 LLMFlow 运维 API 所有 HTTP 端点的请求处理逻辑，
包括受管 LLM 调用、调用记录查询、用量统计、健康检查以及统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
通过 Swagger 注解生成 API 文档。

# 核心类型

  - InvokeHandler    — 受管 LLM 调用（准入、重试、预算、日志一站式）
  - RecordsHandler   — 终态化调用记录查询
  - UsageHandler     — 进程账本花费与按端点聚合的用量统计
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Response         — 统一 JSON 响应结构（api.Response 的别名）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（Database、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 请求级预算上限：invoke 请求的 budget_cap 经一次性作用域生效
  - 计费后超限的调用带着已付费文本一同下发（Data 与 Error 并存）
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers

// Copyright 2026 LLMFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 provider 定义模型服务商的适配边界。调用封套（envelope 包）只通过
Adapter 接口与上游交互：发送一次请求，拿回文本与用量，并将失败归类为
可重试或致命。限流、预算、重试都发生在这条边界之外。

# 核心类型

  - Adapter — 最小适配接口（Send、Name），实现必须并发安全
  - Request / Response / Usage — 单次调用的请求、响应与 token 用量
  - EndpointConfig — 端点的全部静态配置（限流上限、重试、退避、价格）
  - HTTPAdapter — OpenAI 兼容 chat completions 的参考实现

# 错误语义

HTTP 状态码映射到统一错误码（types 包）并带上 Retryable 标记：
401/403 致命、429 可重试、400 按配额关键字细分、5xx/529 可重试。
未分类的传输错误默认可重试。
*/
package provider

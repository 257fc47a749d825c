// 版权所有 2026 LLMFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、调用、准入、预算、缓存与日志账本六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 调用指标：逻辑调用总数与耗时（按 endpoint/outcome 分组）、
    单次尝试总数与耗时、Token 用量（prompt/completion）、调用成本。
  - 准入指标：等待准入耗时 Histogram、等待队列深度 Gauge。
  - 预算指标：预算拒绝计数，按 blocked/detected 分组。
  - 缓存指标：命中与未命中计数，按 endpoint 分组。
  - 账本指标：写入总数（按状态分组）与写入耗时。
*/
package metrics

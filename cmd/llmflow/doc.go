// Copyright (c) LLMFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 LLMFlow 服务端程序入口。

# 概述

cmd/llmflow 是 LLMFlow 受管调用层的可执行入口，提供 HTTP API 服务、
流水库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集、OTLP 链路追踪以及配置热重载。

# 核心类型

  - Server           — 主服务器，组装客户端、缓存、流水与双端口监听
  - EventHub         — 终态化调用事件的 WebSocket 广播枢纽（envelope.Sink）
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、migrate（流水库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、
    BearerAuth（HS256 JWT）
  - 调用路由：/api/v1/invoke（受管调用）、/api/v1/usage（用量汇总）、
    /api/v1/records（调用流水）、/ws/events（事件流）
  - 配置热重载：HotReloadManager 监听文件变更并回调
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus），端口为 0 时挂主端口
  - 优雅关闭：信号监听 → 停止热更新 → 关闭监听 → 断开订阅者 →
    关闭客户端与存储 → 冲刷遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

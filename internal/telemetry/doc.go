// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 LLMFlow 提供集中式的 TracerProvider 和 MeterProvider 配置。
// 调用封套的 llmflow.invoke / llmflow.attempt span 都经由这里
// 注册的全局 Provider 导出。当遥测功能禁用时，使用 noop 实现，
// 不连接任何外部服务。
package telemetry

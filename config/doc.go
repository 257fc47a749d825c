// Package config 提供 LLMFlow 的配置管理功能。
//
// 包含配置加载、热重载、配置 API 和变更历史管理。
// 支持从 YAML 文件和环境变量加载配置（默认值 → 文件 → 环境变量），
// 并对少量字段提供运行时热重载能力。
package config

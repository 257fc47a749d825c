// 版权所有 2026 LLMFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 提供调用流水 Schema 的迁移管理能力，支持 PostgreSQL、
MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各数据库方言的 call_records 迁移文件，结合
golang-migrate 引擎实现版本化的 Schema 变更管理。journal 包的
AutoMigrate 仅面向开发与测试，生产部署应使用本包的版本化迁移。
支持正向迁移、回滚、按步执行、跳转到指定版本以及强制设置版本号。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 等完整操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例
    与数据库连接管理。SQLite 路径使用 sqlite3 驱动（需要 CGO），
    与 journal 包的纯 Go glebarez 驱动注册名不同，互不冲突。
  - Config：迁移配置，包含数据库类型、连接 URL、迁移表名与锁超时。
  - DatabaseType：数据库类型枚举（postgres/mysql/sqlite）。
  - MigrationStatus / MigrationInfo：迁移状态与摘要信息。
  - CLI：命令行交互层，封装 Migrator 提供格式化输出。

# 主要能力

  - 多数据库支持：通过 DatabaseType 与内嵌 SQL 文件自动适配方言。
  - 工厂函数：NewMigratorFromConfig / NewMigratorFromJournalConfig /
    NewMigratorFromURL 支持从不同配置源快速创建迁移器，复用 journal
    配置中的 DSN 保证迁移目标与写入目标一致。
  - CLI 集成：CLI 类型提供 RunUp/RunDown/RunStatus/RunInfo 等
    面向终端的格式化操作。
  - 辅助工具：ParseDatabaseType 解析类型字符串，BuildDatabaseURL
    按方言拼接连接 URL。
*/
package migration

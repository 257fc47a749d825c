// 版权所有 2026 LLMFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的响应缓存，按调用键缓存完整的
Provider 响应，供调用封套在准入之前直接命中返回。

# 概述

本包封装 go-redis 客户端，实现封套的 Cache 接口。缓存是纯粹的
加速层：未命中、连接故障、负载损坏一律按未命中降级，缓存的
任何问题都不会影响调用本身。命中的响应不经过准入与计费。

# 核心类型

  - ResponseCache：响应缓存，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete 操作与 Ping/Close 生命周期管理。
  - Config：缓存配置，包含地址、密码、键前缀、响应 TTL、
    连接池大小与健康检查间隔等参数。

# 主要能力

  - 响应读写：JSON 序列化完整 Provider 响应，按 TTL 过期。
  - 键隔离：KeyPrefix 让多套部署共用一个 Redis 而互不干扰。
  - 降级语义：读写失败记 zap 日志后按未命中处理，损坏负载
    顺手清除。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 优雅关闭：Close 方法安全释放底层 Redis 连接。
*/
package cache

// Copyright 2026 LLMFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 envelope 把一次远程模型调用包裹进完整的生命周期：预算预检 →
token 估算 → （可选）缓存探测 → 限流准入 → 发送 → 失败分类 →
退避重试或放弃 → 按实际用量校正限流窗口 → 恰好一次计费 → 终态记录。

一个 Envelope 绑定一个端点。传输层重试（瞬时故障、单次尝试超时）
全部发生在这里；语义重试（结构化输出不合法）属于 structured 包，
两个重试预算互不相干。

# 核心类型

  - Envelope — 端点的调用封套，并发安全
  - CallRecord — 一次逻辑调用的完整履历（用量、成本、逐次尝试）
  - Attempt — 单次尝试的结果与耗时
  - Cache / Sink — 响应缓存与记录落盘的最小注入接口

# 终态语义

成功之外的每个出口都携带 types.Error：准入超时（ADMISSION_TIMEOUT）、
尝试耗尽（CALL_EXHAUSTED，cause 为逐次错误的 Join）、致命失败立即放弃、
预算拦截（调用前）与预算超限（计费后，响应文本保留在记录里）。
取消的调用释放限流预留，且从不计费。
*/
package envelope

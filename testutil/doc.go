// Copyright 2026 LLMFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 LLMFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏

# 子包

  - testutil/mocks: Mock 实现，包括 Adapter（Provider Adapter 的脚本化
    模拟，支持按次编排响应与错误注入、延迟注入、调用记录）

# 使用示例

	ctx := testutil.TestContext(t)
	adapter := mocks.NewAdapter().WithResponse("hello")
	resp, err := adapter.Send(ctx, req)
	require.NoError(t, err)
*/
package testutil

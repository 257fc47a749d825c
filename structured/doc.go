// Copyright 2026 LLMFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 structured 实现类型化调用协议: 用 Shape 描述期望的结果结构,
把格式说明拼进提示词, 从模型的自由文本里提取并校验 JSON 负载,
失败时携带上一次输出与具体不匹配原因发起语义重试。

语义重试与传输层重试是两条独立的循环: 传输层失败(超时、限流、
临时故障)由调用封套在单次语义尝试内部消化; 语义失败(无法解析、
形状不匹配)各消耗一次语义尝试, 耗尽后以 TYPE_VALIDATION_EXHAUSTED
终止并返回完整的尝试历史。

# 主要类型

  - Shape / Field — 封闭的结构变体集合: string/number/integer/
    boolean/list/mapping/object, 携带枚举、数值边界与可选字段标记
  - Invoker — 显式状态机驱动的语义重试循环
  - Attempt — 单次语义尝试: 提示词、原始输出、判定结果
  - Mismatch / ValidationError — 路径限定的形状不匹配

# 典型用法

	shape := structured.Object(
		structured.F("verdict", structured.String().WithEnum("approve", "reject")),
		structured.F("confidence", structured.Probability()),
	)
	inv, _ := structured.NewInvoker(caller)
	value, attempts, err := inv.Invoke(ctx, prompt, shape, 3)

# 主要能力

  - Shape 建模: 构造函数 + 链式约束, 无运行时反射
  - Describe: 渲染追加到提示词的人类可读格式说明
  - Extract: 剥离 Markdown 代码栅栏, 定位首个配平的 JSON 负载
  - Validate: 递归校验, 越界数值按不匹配处理而非静默截断
  - InvokeBoolean: YES/NO 末次出现判定
*/
package structured

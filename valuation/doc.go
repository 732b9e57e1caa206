// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package valuation 声明 DCF 估值工作流的八个阶段。

# 阶段

	scoping → data → normalization → forecast → wacc → dcf → multiples → report

每个阶段包含输出 Schema（结构校验）与语义规则（勾稽关系、区间、跨阶段
一致性），所有金额以百万为单位。阶段内容由外部 Worker 计算，本包只描述
"什么样的输出是可接受的"。

# 使用

	pipeline, err := valuation.NewPipeline(registry, valuation.Options{})
	exec, err := workflow.NewExecutor(pipeline, store, cfg,
		workflow.WithRequestValidator(valuation.ValidateRequest))

ValidateSubjectKey 校验 ticker 语法（1-10 位 A-Z、0-9、'.'、'-'）。
*/
package valuation

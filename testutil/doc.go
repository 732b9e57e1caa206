// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 valuationflow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现相似的
测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext
  - 时钟: Clock 可手动推进，NoSleep 替代真实的退避等待
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: ScriptedWorker（按尝试次数脚本化的阶段 Worker）、
    FaultyStore（对检查点存储注入写入失败）、EventRecorder（收集管道事件）

# 使用示例

	worker := mocks.NewScriptedWorker().
		Then(mocks.Reply(badPayload)).
		Then(mocks.Reply(goodPayload))
	store := mocks.NewFaultyStore(persistence.NewMemoryStore()).FailCommitAt(2)
*/
package testutil

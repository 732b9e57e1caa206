// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package validation 提供阶段输出的结构校验与语义规则引擎。

# 概述

每个流水线阶段的输出先经过 SchemaValidator 的结构校验（必填字段、类型、
枚举、闭合对象、数值边界、数组长度、字符串模式与格式），结构校验失败即短路；
通过后再由语义规则逐条评估，所有违规都会被列出，用于生成重试反馈。

# 核心类型

  - Schema：声明式输出结构，可序列化为 JSON Schema 子集交给 worker
  - SchemaValidator：结构校验器
  - Rule / Expr：语义规则与数值表达式（Approx、GreaterThan、Between、
    SameValue、OneOf、Increasing、Each、Predicate）
  - StageValidator：组合两阶段校验，输出 Result
  - Result：校验结论与违规列表，Feedback 生成纠错提示

# 路径语法

规则字段使用 "a.b[0].c" 路径；"@stage.path" 读取上游阶段输出，
"$.path" 在 Each 内部读取根输出。缺失或为 null 的操作数使规则不适用。
ReferencedStages 列出规则读取的上游阶段，供流水线构建时核对 Requires。
*/
package validation

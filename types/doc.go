// Copyright (c) NarraFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 NarraFlow 各模块共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、frames、vision、
narration、pipeline、api 等上层模块提供统一的类型契约。所有跨包共享的
结构体、枚举和错误码均定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode  — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - Role               — 提供商能力角色（vision / text）
  - Frame / FrameBatch — 关键帧与帧批次
  - BatchDescription   — 单批次视觉描述结果（含失败详情）
  - NarrationResult    — 最终解说文案与失败批次清单
  - Run / RunState     — 流水线运行记录与状态机状态

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithUserID
  - 错误工具链：WrapError / AsError / IsCode / IsRetryable / GetErrorCode
*/
package types

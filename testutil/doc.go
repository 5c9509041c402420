// Copyright 2026 NarraFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package testutil 提供 NarraFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为 API 层、入口层与端到端测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。流水线等底层包保留各自
的包内测试替身。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON，简化测试数据构造
  - Provider 模拟: MockProvider 支持 Builder 模式、错误注入、
    调用记录与按次数脚本化失败
  - 注册表辅助: NewRegistry / RegisterVisionText 快速搭建
    由模拟 Provider 支撑的注册表
  - 数据工厂: Frames / FrameData / WriteFrameDir / SampleRun /
    SampleResult 构造关键帧与运行样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := testutil.NewSuccessProvider("gemini", "一段描述")
	reg := testutil.NewRegistry(map[string]llm.Provider{"gemini": provider})
	testutil.RegisterVisionText(reg)
*/
package testutil

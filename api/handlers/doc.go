// Copyright (c) NarraFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 NarraFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 NarraFlow 所有 HTTP 端点的请求处理逻辑，
包括运行提交与查询、WebSocket 事件流、Provider 清单、健康检查
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
通过 Swagger 注解生成 API 文档。

# 核心类型

  - RunsHandler      — 运行提交（异步执行）、单条查询与清单
  - EventsHandler    — WebSocket 事件流，推送状态转移直到终态
  - ProvidersHandler — 目录后端清单，含配置状态与生效模型
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - HealthCheck      — 可插拔健康检查接口（PingCheck 适配任意后端）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteAccepted / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 事件订阅：先订阅再发快照，状态跳变不漏推
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers

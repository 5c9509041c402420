// Copyright (c) NarraFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 NarraFlow 服务端程序入口。

# 概述

cmd/narraflow 是 NarraFlow 流水线的可执行入口，提供 HTTP API 服务、
单次运行、Provider 巡检和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 链路追踪。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - components       — 由配置装配出的注册表、编排器与各存储后端
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、run（执行一次运行并输出解说词）、
    providers（列出 Provider 目录与配置状态）、health（探测已配置
    Provider）、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    CORS、MetricsMiddleware（路径归一化）、OTelTracing、
    RateLimiter（基于 IP）、JWTAuth（HS256）、APIKeyAuth（X-API-Key）
  - 存储装配：运行状态存储（内存 / Redis）、运行历史库
    （SQLite / Postgres）、批次描述缓存（Redis）
  - Metrics 暴露：metrics_addr 配置独立端口，留空挂在主端口 /metrics
  - 优雅关闭：信号监听 → 取消在途运行 → 关闭事件中心 → 关闭 HTTP →
    关闭 Metrics → 释放存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

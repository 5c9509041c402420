// Package config 提供 NarraFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的优先级合并，
// 载入后即只读：运行期间没有任何组件修改 Provider 档案或代理策略。
package config

/*
包 llm 提供统一的大语言模型接入层。

# 概述

本包目标是屏蔽不同模型服务商在接口、鉴权、错误语义上的差异，
对上层的视觉描述与文案生成阶段暴露一致的请求与响应模型，
降低多模型接入和切换成本。

# Provider 抽象

核心接口是 [Provider]，包含补全、健康检查与标识。多模态请求通过
[Message] 中的 [Part] 列表表达：文本段与 base64 图像段按原顺序
传给底层适配器，由适配器改写为各自的线上格式。

# 注册与解析

[ProviderRegistry] 按 (role, id) 维护 [ProviderProfile]。Resolve
在运行开始时解析一次，之后不再按调用做字符串分发；空 API Key 的
Profile 在发起任何网络请求之前即返回 PROVIDER_NOT_CONFIGURED。
*/
package llm

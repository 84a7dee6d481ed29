/*
Package llm 定义文本生成上游的统一接口。

# 核心类型

  - Provider：上游适配接口，一次同步补全
  - ChatRequest / ChatResponse：请求与响应
  - Error：上游错误，携带 HTTP 状态与可重试性
  - Registry：模型引用到 Provider 与上游模型名的绑定

只有 llm/gateway 会调用 Provider；其他组件通过网关生成文本。
*/
package llm

/*
Package types 提供群聊引擎各层共享的类型定义。

types 是最底层的公共包，不依赖任何内部包：

  - Member / MemberProfile：群成员与 AI 人设
  - Message / MessageKind：不可变的群消息
  - RelevanceDecision：触发判定（分数、原因、信号）
  - ConsistencyVerdict：一致性检查结果
  - Error / ErrorCode：结构化错误体系
*/
package types

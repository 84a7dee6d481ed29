/*
Package guardrails 为群聊提示词与模型回复提供输入输出防护。

输入侧 InjectionDetector 识别群成员消息中的提示注入企图，
被标记的消息在拼进提示词时用分隔符隔离，而不是丢弃。

输出侧 FormatFilter 把模型回复整理成群聊口吻的纯文本：
去掉 Markdown 标记、合并多余空行，并按长度上限截断。
LeakageFilter 排在它前面，拒绝复述系统提示词、自称 AI 或夹带模板与指令的回复。
*/
package guardrails

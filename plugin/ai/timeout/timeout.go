// Package timeout defines centralized timeout constants for agent operations.
// Package timeout 定义代理操作的集中式超时常量。
package timeout

import "time"

// Agent operation timeout constants.
// 代理操作超时常量。
const (
	// InferenceTimeout bounds one streaming inference call to the LLM.
	// InferenceTimeout 是单次 LLM 流式推理的超时时间。
	InferenceTimeout = 3 * time.Minute

	// ToolExecutionTimeout is the timeout for individual tool execution.
	// ToolExecutionTimeout 是单个工具执行的超时时间。
	ToolExecutionTimeout = 30 * time.Second

	// MaxIterations is the maximum number of inference rounds in one turn.
	// MaxIterations 是单轮执行中推理循环的最大次数。
	MaxIterations = 25

	// MaxToolResultLength caps the tool output fed back to the model and stored in the chunk log.
	MaxToolResultLength = 16 * 1024

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)

// Truncate shortens s to at most n bytes, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…[truncated]"
}

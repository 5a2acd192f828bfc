package contract

// UpstreamError 承载远端错误的最小诊断信息。
// 实现方提供状态码与简短消息，便于编排层记录结构化日志字段。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

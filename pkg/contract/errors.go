package contract

import "errors"

// 输入/持久化相关最小错误分类。
var (
	// ErrPathInvalid: 快照名映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrExists: 目标已存在；快照只增不改，拒绝覆盖。
	ErrExists = errors.New("already exists")
	// ErrSourceMissing: 未上传且默认路径不存在。
	ErrSourceMissing = errors.New("source missing")
	// ErrNoSections: 模板中没有任何可用段落。
	ErrNoSections = errors.New("no sections")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)

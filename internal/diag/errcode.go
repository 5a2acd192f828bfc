package diag

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与用户可见文案解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeAuth      Code = "auth"
)

// Classify 将错误归为最小分类。
// 只依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrCredentialMissing) {
		return CodeAuth
	}
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) || errors.Is(err, contract.ErrUnsupportedOption) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrSeqInvalid) ||
		errors.Is(err, contract.ErrNoSections) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	if errors.Is(err, contract.ErrExists) || errors.Is(err, contract.ErrSourceMissing) || errors.Is(err, fs.ErrNotExist) {
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Record 统一记录一次组件失败：error 日志 + error 计数 + 分类计数。
func Record(l *Logger, comp, msg string, err error, sessionID, section string) Code {
	code := Classify(err)
	l.ErrorWith(comp, string(code), msg, err, sessionID, section)
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}

package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger 在 zerolog 之上保留“组件/阶段”事件形状：start → finish | error。
// 每条事件固定携带 corr_id/comp/stage，可选 session_id/section/code/dur_ms/count。
type Logger struct {
	zl   zerolog.Logger
	sink *RotatingFile
}

// NewLogger 写入 <dir>/gentemp-current.txt（10 MiB 轮转，dir 为空取 logs）；
// console=true 时同时以可读格式输出到 stderr。
func NewLogger(dir, corrID, level string, console bool) *Logger {
	if dir == "" {
		dir = "logs"
	}
	sink := NewRotatingFile(dir, 10*1024*1024)
	var w io.Writer = sink
	if console {
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: !IsTTY(os.Stderr)}
		w = zerolog.MultiLevelWriter(sink, cw)
	}
	l := NewLoggerTo(w, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 以任意 io.Writer 为目标构造日志器（测试与嵌入场景）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("corr_id", corrID).
		Logger()
	return &Logger{zl: zl}
}

// Nop 返回丢弃一切输出的日志器。
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

// ParseLevel 解析 debug|info|warn|error，未知取 info。
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Zerolog 暴露底层 zerolog.Logger，供 HTTP 中间件注入请求上下文。
func (l *Logger) Zerolog() *zerolog.Logger {
	if l == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return &l.zl
}

// Close 关闭文件 sink（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func (l *Logger) event(ev *zerolog.Event, comp, stage, sessionID, section string, kv map[string]string) *zerolog.Event {
	ev = ev.Str("comp", comp).Str("stage", stage)
	if sessionID != "" {
		ev = ev.Str("session_id", sessionID)
	}
	if section != "" {
		ev = ev.Str("section", section)
	}
	if len(kv) > 0 {
		ev = ev.Interface("kv", kv)
	}
	return ev
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 session_id/section 的 start。
func (l *Logger) StartWith(comp, msg, sessionID, section string) *Timer {
	return l.StartWithKV(comp, msg, sessionID, section, nil)
}

// StartWithKV 记录带 session_id/section 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, sessionID, section string, kv map[string]string) *Timer {
	if l == nil {
		return nil
	}
	l.event(l.zl.Info(), comp, "start", sessionID, section, kv).Msg(msg)
	return &Timer{l: l, comp: comp, sessionID: sessionID, section: section, t0: time.Now()}
}

// ErrorWith 记录 error 事件（不采样）。
func (l *Logger) ErrorWith(comp, code, msg string, err error, sessionID, section string) {
	l.ErrorWithKV(comp, code, msg, err, sessionID, section, nil)
}

// ErrorWithKV 附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, err error, sessionID, section string, kv map[string]string) {
	if l == nil {
		return
	}
	ev := l.event(l.zl.Error(), comp, "error", sessionID, section, kv).Str("code", code)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// Warn 记录非致命告警（例如降级为行内错误文本）。
func (l *Logger) Warn(comp, msg, sessionID, section string, kv map[string]string) {
	if l == nil {
		return
	}
	l.event(l.zl.Warn(), comp, "warn", sessionID, section, kv).Msg(msg)
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, sessionID, section string, kv map[string]string) {
	if l == nil {
		return
	}
	l.event(l.zl.Debug(), comp, "start", sessionID, section, kv).Msg(msg)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l         *Logger
	comp      string
	sessionID string
	section   string
	t0        time.Time
}

// Finish 记录 finish 并累计耗时指标；count 可为 0。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	ev := t.l.event(t.l.zl.Info(), t.comp, "finish", t.sessionID, t.section, nil).Int64("dur_ms", dur)
	if count > 0 {
		ev = ev.Int64("count", count)
	}
	ev.Msg(msg)
	ObserveDuration(t.comp, msg, dur)
}

// Since 返回计时起点至今的时长。
func (t *Timer) Since() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

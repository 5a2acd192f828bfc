package diag

import (
	"sort"
	"sync"
)

// 进程内指标：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（次数/累计/最大）
// 由 /healthz 以 Snapshot 导出。

type durStat struct {
	count int64
	sum   int64
	max   int64
}

var metMu sync.Mutex

var (
	ops  = map[string]int64{}
	errs = map[string]int64{}
	durs = map[string]*durStat{}
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	metMu.Lock()
	ops[comp+"."+stage+"."+result]++
	metMu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metMu.Lock()
	errs[comp+"."+code]++
	metMu.Unlock()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metMu.Lock()
	defer metMu.Unlock()
	k := comp + "." + stage
	d := durs[k]
	if d == nil {
		d = &durStat{}
		durs[k] = d
	}
	d.count++
	d.sum += durMS
	if durMS > d.max {
		d.max = durMS
	}
}

// DurationStat 为单个 comp.stage 的耗时汇总。
type DurationStat struct {
	Count int64 `json:"count"`
	SumMS int64 `json:"sum_ms"`
	MaxMS int64 `json:"max_ms"`
}

// Metrics 是指标的只读拷贝。
type Metrics struct {
	Ops       map[string]int64        `json:"ops"`
	Errors    map[string]int64        `json:"errors"`
	Durations map[string]DurationStat `json:"durations"`
}

// Snapshot 返回当前计数的拷贝。
func Snapshot() Metrics {
	metMu.Lock()
	defer metMu.Unlock()
	m := Metrics{
		Ops:       make(map[string]int64, len(ops)),
		Errors:    make(map[string]int64, len(errs)),
		Durations: make(map[string]DurationStat, len(durs)),
	}
	for k, v := range ops {
		m.Ops[k] = v
	}
	for k, v := range errs {
		m.Errors[k] = v
	}
	for k, v := range durs {
		m.Durations[k] = DurationStat{Count: v.count, SumMS: v.sum, MaxMS: v.max}
	}
	return m
}

// Keys 返回排序后的操作键，便于稳定输出。
func (m Metrics) Keys() []string {
	ks := make([]string, 0, len(m.Ops))
	for k := range m.Ops {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// ResetMetrics 清空全部计数（测试用）。
func ResetMetrics() {
	metMu.Lock()
	ops = map[string]int64{}
	errs = map[string]int64{}
	durs = map[string]*durStat{}
	metMu.Unlock()
}

package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// LimitKey: 限流分组键（client + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限，0 表示不限制
}

// Enabled 报告是否配置了任一维度。
func (l Limits) Enabled() bool { return l.RPM > 0 || l.TPM > 0 || l.MaxTokensPerReq > 0 }

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。多个会话共享同一上游配额。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Available 为某分组当前余量（诊断用，-1 表示该维度未启用）。
type Available struct {
	Requests int `json:"requests"`
	Tokens   int `json:"tokens"`
}

// Snapshoter: 可选诊断接口，/healthz 使用。
type Snapshoter interface {
	Snapshot(key LimitKey) Available
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newEntry(lim, now)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req bucket
	tok bucket
}

// bucket 为按分钟补满的令牌桶；cap=0 表示关闭。
type bucket struct {
	cap   int
	level float64
	rate  float64 // 每秒补充量
	last  time.Time
}

func newEntry(lim Limits, now time.Time) *entry {
	return &entry{lim: lim, req: newBucket(lim.RPM, now), tok: newBucket(lim.TPM, now)}
}

func newBucket(capacity int, now time.Time) bucket {
	if capacity <= 0 {
		return bucket{}
	}
	return bucket{cap: capacity, level: float64(capacity), rate: float64(capacity) / 60.0, last: now}
}

func (b *bucket) on() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	// 时钟回拨视为无时间流逝
	if !b.on() || !now.After(b.last) {
		return
	}
	b.level += now.Sub(b.last).Seconds() * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

func (b *bucket) has(n int) bool { return !b.on() || n <= 0 || b.level >= float64(n) }

func (b *bucket) take(n int) {
	if b.on() && n > 0 {
		b.level -= float64(n)
	}
}

// deficit 返回凑齐 n 还需等待的时长。
func (b *bucket) deficit(n int) time.Duration {
	if b.has(n) {
		return 0
	}
	return time.Duration((float64(n) - b.level) / b.rate * float64(time.Second))
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, fmt.Errorf("rate: bad ask %+v: %w", a, contract.ErrInvalidInput)
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return nil, fmt.Errorf("rate: %d tokens over per-request cap %d: %w", a.Tokens, e.lim.MaxTokensPerReq, contract.ErrBudgetExceeded)
	}
	return e, nil
}

// acquire 尝试一次扣减；失败时返回需等待的时长。
func (g *gate) acquire(e *entry, a Ask) (bool, time.Duration) {
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	if e.req.has(a.Requests) && e.tok.has(a.Tokens) {
		e.req.take(a.Requests)
		e.tok.take(a.Tokens)
		return true, 0
	}
	return false, max(e.req.deficit(a.Requests), e.tok.deficit(a.Tokens))
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	ok, _ := g.acquire(e, a)
	return ok
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	const minSleep = 10 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, d := g.acquire(e, a)
		if ok {
			return nil
		}
		if err := sleepCtx(ctx, d+minSleep); err != nil {
			return err
		}
	}
}

// sleepCtx 以不超过 200ms 的步长睡眠，及时响应取消。
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

func (g *gate) Snapshot(key LimitKey) Available {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	avail := func(b *bucket) int {
		if !b.on() {
			return -1
		}
		return int(max(b.level, 0))
	}
	return Available{Requests: avail(&e.req), Tokens: avail(&e.tok)}
}

var (
	_ Gate       = (*gate)(nil)
	_ Snapshoter = (*gate)(nil)
)

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdle 为会话默认空闲过期时间。
const DefaultIdle = 24 * time.Hour

// Store 是进程内会话表，以 UUID 为键（浏览器 cookie 携带）。
type Store struct {
	mu   sync.Mutex
	m    map[string]*State
	idle time.Duration
	now  func() time.Time
}

// NewStore 构造会话表；idle<=0 取 DefaultIdle，now 为空取 time.Now。
func NewStore(idle time.Duration, now func() time.Time) *Store {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if now == nil {
		now = time.Now
	}
	return &Store{m: map[string]*State{}, idle: idle, now: now}
}

// Get 查找会话并刷新其活跃时间；不存在或非法 id 返回 false。
func (s *Store) Get(id string) (*State, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	s.mu.Lock()
	st, ok := s.m[id]
	s.mu.Unlock()
	if ok {
		st.touch(s.now())
	}
	return st, ok
}

// Create 新建会话。
func (s *Store) Create() *State {
	st := newState(uuid.NewString(), s.now())
	s.mu.Lock()
	s.m[st.ID] = st
	s.mu.Unlock()
	return st
}

// GetOrCreate 按 id 取会话，不存在时新建；created 表示需要下发新 cookie。
func (s *Store) GetOrCreate(id string) (st *State, created bool) {
	if st, ok := s.Get(id); ok {
		return st, false
	}
	return s.Create(), true
}

// Len 返回会话数。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Sweep 移除空闲超时且不忙的会话，返回移除数量。
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.m {
		if st.idleSince().Before(cutoff) && !st.Busy() {
			delete(s.m, id)
			n++
		}
	}
	return n
}

// Janitor 按 every 周期清理，直到 ctx 取消。
func (s *Store) Janitor(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Hour
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			s.Sweep()
		}
	}
}

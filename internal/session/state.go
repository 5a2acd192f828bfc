package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// ErrBusy: 同一会话已有动作在执行；新动作被拒绝而非排队。
var ErrBusy = errors.New("another action is already running for this session; wait for it to finish")

// Phase 为单份报告的状态机：EMPTY → GENERATING → READY → [REFINING → READY]*。
type Phase string

const (
	PhaseEmpty      Phase = "EMPTY"
	PhaseGenerating Phase = "GENERATING"
	PhaseReady      Phase = "READY"
	PhaseRefining   Phase = "REFINING"
)

// Snapshot: 已持久化的报告副本，只增不改。
type Snapshot struct {
	Name      string
	Text      string
	CreatedAt time.Time
}

// State 为单个浏览器会话的全部可变状态。
// 字段由 mu 保护；一个时刻只允许一个动作（busy）。
type State struct {
	ID string

	mu        sync.RWMutex
	phase     Phase
	sections  map[int]string
	total     int
	report    string
	snapshots []Snapshot
	chat      []contract.Message
	notice    Notice
	selected  int
	touched   time.Time

	busy sync.Mutex
}

// Notice 是最近一次动作留给页面的提示。
type Notice struct {
	Level string // info|success|error
	Text  string
}

func newState(id string, now time.Time) *State {
	return &State{ID: id, phase: PhaseEmpty, sections: map[int]string{}, touched: now}
}

// Begin 进入一个动作：会话已忙时返回 ErrBusy；否则切换到 to 并返回结束函数。
// 结束函数把 phase 置为 done（若非空）；EMPTY 会话的动作失败时保持 EMPTY。
func (s *State) Begin(to Phase) (func(done Phase), error) {
	if !s.busy.TryLock() {
		return nil, ErrBusy
	}
	s.mu.Lock()
	prev := s.phase
	if to == PhaseRefining && prev != PhaseReady {
		s.mu.Unlock()
		s.busy.Unlock()
		return nil, fmt.Errorf("session: refine needs a ready report (phase %s): %w", prev, contract.ErrInvariantViolation)
	}
	if to != "" {
		s.phase = to
	}
	s.mu.Unlock()
	var once sync.Once
	return func(done Phase) {
		once.Do(func() {
			s.mu.Lock()
			if done == "" {
				done = prev
			}
			s.phase = done
			s.mu.Unlock()
			s.busy.Unlock()
		})
	}, nil
}

// Busy 报告当前是否有动作在执行。
func (s *State) Busy() bool {
	if s.busy.TryLock() {
		s.busy.Unlock()
		return false
	}
	return true
}

// Phase 返回当前阶段。
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Reset 以新的段落总数开始一份报告，清掉旧段落。
func (s *State) Reset(total int) {
	s.mu.Lock()
	s.sections = make(map[int]string, total)
	s.total = total
	s.report = ""
	s.selected = 1
	s.mu.Unlock()
}

// Put 写入某一段的生成结果。
func (s *State) Put(ordinal int, text string) {
	s.mu.Lock()
	s.sections[ordinal] = text
	s.mu.Unlock()
}

// Sections 返回段落的拷贝（供装配）。
func (s *State) Sections() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]string, len(s.sections))
	for k, v := range s.sections {
		out[k] = v
	}
	return out
}

// Section 返回某段当前文本。
func (s *State) Section(ordinal int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sections[ordinal]
	return v, ok
}

// Total 返回段落总数。
func (s *State) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Assemble 以 asm 重新拼出整份报告并保存。
func (s *State) Assemble(ctx context.Context, asm contract.Assembler) (string, error) {
	secs := s.Sections()
	if len(secs) != s.Total() {
		return "", fmt.Errorf("session: %d of %d sections present: %w", len(secs), s.Total(), contract.ErrInvariantViolation)
	}
	text, err := asm.Assemble(ctx, secs)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.report = text
	s.mu.Unlock()
	return text, nil
}

// Patch 替换一段并重新装配；其余段落逐字节不变。
// 装配失败时恢复旧文本。
func (s *State) Patch(ctx context.Context, asm contract.Assembler, ordinal int, text string) (string, error) {
	s.mu.Lock()
	if ordinal < 1 || ordinal > s.total {
		s.mu.Unlock()
		return "", fmt.Errorf("session: section %d out of range 1..%d: %w", ordinal, s.total, contract.ErrSeqInvalid)
	}
	old := s.sections[ordinal]
	s.sections[ordinal] = text
	s.mu.Unlock()

	report, err := s.Assemble(ctx, asm)
	if err != nil {
		s.Put(ordinal, old)
		return "", err
	}
	return report, nil
}

// Report 返回最近一次装配的整份报告。
func (s *State) Report() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// AddSnapshot 追加一份快照记录。
func (s *State) AddSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

// FindSnapshot 按名称查找本会话产出的快照。
func (s *State) FindSnapshot(name string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sn := range s.snapshots {
		if sn.Name == name {
			return sn, true
		}
	}
	return Snapshot{}, false
}

// AppendChat 追加对话消息。
func (s *State) AppendChat(msgs ...contract.Message) {
	s.mu.Lock()
	s.chat = append(s.chat, msgs...)
	s.mu.Unlock()
}

// SetNotice 设置页面提示。
func (s *State) SetNotice(level, text string) {
	s.mu.Lock()
	s.notice = Notice{Level: level, Text: text}
	s.mu.Unlock()
}

// Select 记录页面当前选中的段落；越界时忽略。
func (s *State) Select(ordinal int) {
	s.mu.Lock()
	if ordinal >= 1 && ordinal <= s.total {
		s.selected = ordinal
	}
	s.mu.Unlock()
}

func (s *State) touch(now time.Time) {
	s.mu.Lock()
	s.touched = now
	s.mu.Unlock()
}

func (s *State) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched
}

// View 是渲染页面所需的只读拷贝。
type View struct {
	ID        string
	Phase     Phase
	Busy      bool
	Total     int
	Ordinals  []int
	Selected  int
	Current   string
	Report    string
	Snapshots []Snapshot
	Chat      []contract.Message
	Notice    Notice
}

// View 生成只读拷贝；Notice 读取后清空（一次性提示）。
func (s *State) View() View {
	busy := s.Busy()
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:        s.ID,
		Phase:     s.phase,
		Busy:      busy,
		Total:     s.total,
		Selected:  s.selected,
		Report:    s.report,
		Snapshots: append([]Snapshot(nil), s.snapshots...),
		Chat:      append([]contract.Message(nil), s.chat...),
		Notice:    s.notice,
	}
	for k := range s.sections {
		v.Ordinals = append(v.Ordinals, k)
	}
	sort.Ints(v.Ordinals)
	v.Current = s.sections[s.selected]
	s.notice = Notice{}
	return v
}

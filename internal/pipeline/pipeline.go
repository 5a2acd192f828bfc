package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mist54/GenTemplate/internal/diag"
	"github.com/Mist54/GenTemplate/internal/prompt"
	"github.com/Mist54/GenTemplate/internal/rate"
	"github.com/Mist54/GenTemplate/internal/session"
	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Components 聚合一次运行所需的全部组件。
type Components struct {
	Reader        contract.Reader
	Decoder       contract.DatasetDecoder
	Splitter      contract.Splitter
	PromptBuilder contract.PromptBuilder
	Assembler     contract.Assembler
	Writer        contract.Writer
	Gen           *Generator
}

// Settings 为编排参数。
type Settings struct {
	DefaultCSV      string
	DefaultTemplate string
	Marker          string        // 仅用于提示文本
	Pause           time.Duration // 段落请求之间的固定停顿；<0 表示不停顿
	BytesPerToken   int
	Gate            rate.Gate
	GateKey         rate.LimitKey
	Now             func() time.Time
}

// 默认值。
const (
	DefaultCSVPath      = "src/Monthly_Operations_Data.csv"
	DefaultTemplatePath = "src/ReportTemplate.txt"
	DefaultPause        = 250 * time.Millisecond
)

func (s Settings) markerName() string {
	if s.Marker == "" {
		return "SECTION"
	}
	return s.Marker
}

// Outcome 为一次动作的结果摘要。
type Outcome struct {
	Snapshot session.Snapshot
	Sections int
	Degraded int // 以行内错误文本降级的段落数
}

// Orchestrator 驱动 Generate/Refine/Chat 三个用户动作。
// 同一会话一次只执行一个动作；不同会话可并发。
type Orchestrator struct {
	comp     Components
	set      Settings
	log      *diag.Logger
	progress Progress
}

// New 校验组件并构造编排器；logger/progress 可为 nil。
func New(comp Components, set Settings, logger *diag.Logger, progress Progress) (*Orchestrator, error) {
	if comp.Reader == nil || comp.Decoder == nil || comp.Splitter == nil || comp.PromptBuilder == nil ||
		comp.Assembler == nil || comp.Writer == nil || comp.Gen == nil {
		return nil, fmt.Errorf("pipeline: incomplete components: %w", contract.ErrInvalidInput)
	}
	if set.DefaultCSV == "" {
		set.DefaultCSV = DefaultCSVPath
	}
	if set.DefaultTemplate == "" {
		set.DefaultTemplate = DefaultTemplatePath
	}
	if set.Pause == 0 {
		set.Pause = DefaultPause
	}
	if set.BytesPerToken <= 0 {
		set.BytesPerToken = 4
	}
	if set.Now == nil {
		set.Now = time.Now
	}
	if progress == nil {
		progress = nopProgress{}
	}
	if logger == nil {
		logger = diag.Nop()
	}
	comp.Gen.WithLogger(logger)
	return &Orchestrator{comp: comp, set: set, log: logger, progress: progress}, nil
}

// Generator 返回底层生成器（供 ping 与 /healthz 使用）。
func (o *Orchestrator) Generator() *Generator { return o.comp.Gen }

// Generate 读取输入、逐段填充、装配并持久化一份新报告。
// 读取/拆分失败在任何远端调用之前返回；单段失败降级为行内错误文本并继续。
func (o *Orchestrator) Generate(ctx context.Context, st *session.State, in Inputs) (Outcome, error) {
	end, err := st.Begin(session.PhaseGenerating)
	if err != nil {
		st.SetNotice("error", UserMessage(err))
		return Outcome{}, err
	}
	final := session.Phase("") // 失败时恢复原阶段
	defer func() { end(final) }()

	runStart := time.Now()
	timer := o.log.StartWith("pipeline", "generate", st.ID, "")
	fail := func(comp string, err error) (Outcome, error) {
		diag.Record(o.log, comp, "generate failed", err, st.ID, "")
		st.SetNotice("error", UserMessage(err))
		o.progress.Publish(Event{Session: st.ID, Kind: EventError, Text: UserMessage(err)})
		diag.GetTerminal().GenerateFinish(false, "", time.Since(runStart))
		return Outcome{}, err
	}

	data, err := o.loadDataset(ctx, in)
	if err != nil {
		return fail("loader", err)
	}
	secs, err := o.loadSections(ctx, in)
	if err != nil {
		return fail("splitter", err)
	}
	total := len(secs)
	_, overhead := prompt.Overhead(o.comp.PromptBuilder, o.set.BytesPerToken, 0)
	o.log.DebugStart("pipeline", "plan", st.ID, "", map[string]string{
		"sections":        strconv.Itoa(total),
		"rows":            strconv.Itoa(data.Len()),
		"columns":         strconv.Itoa(len(data.Columns)),
		"overhead_tokens": strconv.Itoa(overhead),
	})
	diag.GetTerminal().GenerateStart(st.ID, total)
	o.progress.Publish(Event{Session: st.ID, Kind: EventStart, Total: total, Text: fmt.Sprintf("Generating %d sections...", total)})

	// 自此旧报告被替换；中途失败会话回到 EMPTY
	st.Reset(total)
	final = session.PhaseEmpty
	degraded := 0
	for i, sec := range secs {
		if i > 0 {
			if err := sleepCtx(ctx, o.set.Pause); err != nil {
				return fail("pipeline", err)
			}
		}
		o.progress.Publish(Event{Session: st.ID, Kind: EventSection, Done: i, Total: total,
			Text: fmt.Sprintf("Processing section %d/%d...", i+1, total)})
		text, ok := o.fillSection(ctx, st.ID, sec, data)
		if !ok {
			degraded++
		}
		st.Put(sec.Ordinal, strings.Trim(text, "\n"))
		diag.GetTerminal().SectionProgress(i+1, total, degraded)
	}
	if err := ctx.Err(); err != nil {
		return fail("pipeline", err)
	}

	report, err := st.Assemble(ctx, o.comp.Assembler)
	if err != nil {
		return fail("assembler", err)
	}
	// 报告已在内存中可用；持久化失败时仍可改写
	final = session.PhaseReady
	wtimer := o.log.StartWith("writer", "write", st.ID, "")
	snap, err := Persist(ctx, o.comp.Writer, contract.SnapshotReport, report, o.set.Now())
	if err != nil {
		return fail("writer", userErr(err, "Report generated but could not be saved: %v", err))
	}
	wtimer.Finish("write", int64(len(report)))
	diag.IncOp("writer", "finish", "success")
	st.AddSnapshot(snap)

	msg := "Report generated successfully! (AI handled all calculations)"
	if degraded > 0 {
		msg = fmt.Sprintf("%s %d of %d sections could not be generated; see the inline errors.", msg, degraded, total)
	}
	st.SetNotice("success", msg)
	o.progress.Publish(Event{Session: st.ID, Kind: EventDone, Done: total, Total: total, Text: snap.Name})
	timer.Finish("generate", int64(total))
	diag.IncOp("pipeline", "generate", "success")
	diag.GetTerminal().GenerateFinish(true, snap.Name, time.Since(runStart))
	return Outcome{Snapshot: snap, Sections: total, Degraded: degraded}, nil
}

// fillSection 构造填充提示词并调用生成器；失败时返回行内错误文本与 false。
func (o *Orchestrator) fillSection(ctx context.Context, sessionID string, sec contract.Section, data contract.Dataset) (string, bool) {
	secID := strconv.Itoa(sec.Ordinal)
	gen := o.comp.Gen
	p, err := o.comp.PromptBuilder.Fill(sec, data)
	if err != nil {
		diag.Record(o.log, "prompt_builder", "build failed", err, sessionID, secID)
		return o.sectionFailed(err), false
	}
	if err := o.wait(ctx, sessionID, secID, p); err != nil {
		diag.Record(o.log, "gate", "wait failed", err, sessionID, secID)
		return o.sectionFailed(err), false
	}
	t := o.log.StartWith("llm_client", "invoke", sessionID, secID)
	text, err := gen.Attempt(ctx, p)
	if err != nil {
		o.recordInvoke(err, sessionID, secID)
		return gen.Inline(err), false
	}
	t.Finish("invoke", int64(len(text)))
	diag.IncOp("llm_client", "finish", "success")
	return text, true
}

func (o *Orchestrator) sectionFailed(err error) string {
	return fmt.Sprintf("[ERROR: %s API failed for this section: %v]", o.comp.Gen.Label(), err)
}

// recordInvoke 记录调用失败；上游 HTTP 错误附带状态码与消息片段。
func (o *Orchestrator) recordInvoke(err error, sessionID, secID string) {
	code := diag.Classify(err)
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv := map[string]string{"http_status": strconv.Itoa(ue.UpstreamStatus())}
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			if len(m) > 200 {
				m = m[:200]
			}
			kv["upstream_msg"] = m
		}
		o.log.ErrorWithKV("llm_client", string(code), "invoke failed", err, sessionID, secID, kv)
	} else {
		o.log.ErrorWith("llm_client", string(code), "invoke failed", err, sessionID, secID)
	}
	diag.IncOp("llm_client", "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError("llm_client", string(code))
	}
}

// wait 在配置了限流闸门时申请一次放行。
func (o *Orchestrator) wait(ctx context.Context, sessionID, secID string, p contract.Prompt) error {
	if o.set.Gate == nil {
		return nil
	}
	tokens := prompt.Ask(p, o.set.BytesPerToken, o.comp.Gen.Options())
	o.log.DebugStart("gate", "ask", sessionID, secID, map[string]string{
		"requests": "1",
		"tokens":   strconv.Itoa(tokens),
	})
	return o.set.Gate.Wait(ctx, rate.Ask{Key: o.set.GateKey, Requests: 1, Tokens: tokens})
}

// Refine 按指令改写一段；远端失败时保留旧文本并返回错误。
// 成功后重新装配并持久化 report_updated_* 快照。
func (o *Orchestrator) Refine(ctx context.Context, st *session.State, ordinal int, instruction string) (Outcome, error) {
	if strings.TrimSpace(instruction) == "" {
		err := userErr(contract.ErrInvalidInput, "Enter a refinement instruction first.")
		st.SetNotice("error", UserMessage(err))
		return Outcome{}, err
	}
	end, err := st.Begin(session.PhaseRefining)
	if err != nil {
		if errors.Is(err, contract.ErrInvariantViolation) {
			err = userErr(err, "Generate a report before refining a section.")
		}
		st.SetNotice("error", UserMessage(err))
		return Outcome{}, err
	}
	defer end(session.PhaseReady)

	secID := strconv.Itoa(ordinal)
	timer := o.log.StartWith("pipeline", "refine", st.ID, secID)
	label := o.comp.Gen.Label()
	fail := func(comp string, err error) (Outcome, error) {
		diag.Record(o.log, comp, "refine failed", err, st.ID, secID)
		st.SetNotice("error", UserMessage(err))
		o.progress.Publish(Event{Session: st.ID, Kind: EventError, Text: UserMessage(err)})
		return Outcome{}, err
	}

	current, ok := st.Section(ordinal)
	if !ok {
		return fail("pipeline", userErr(contract.ErrSeqInvalid, "Section %d does not exist.", ordinal))
	}
	st.Select(ordinal)
	o.progress.Publish(Event{Session: st.ID, Kind: EventStart, Total: 1, Text: fmt.Sprintf("Regenerating Section %d...", ordinal)})

	p, err := o.comp.PromptBuilder.Refine(current, instruction)
	if err != nil {
		return fail("prompt_builder", userErr(err, "%s API failed to refine this section: %v", label, err))
	}
	if err := o.wait(ctx, st.ID, secID, p); err != nil {
		return fail("gate", userErr(err, "%s API failed to refine this section: %v", label, err))
	}
	text, err := o.comp.Gen.Attempt(ctx, p)
	if err != nil {
		o.recordInvoke(err, st.ID, secID)
		return fail("pipeline", userErr(err, "%s API failed to refine this section: %v", label, err))
	}

	report, err := st.Patch(ctx, o.comp.Assembler, ordinal, strings.Trim(text, "\n"))
	if err != nil {
		return fail("assembler", err)
	}
	snap, err := Persist(ctx, o.comp.Writer, contract.SnapshotUpdated, report, o.set.Now())
	if err != nil {
		return fail("writer", userErr(err, "Section %d updated but the report could not be saved: %v", ordinal, err))
	}
	st.AddSnapshot(snap)
	st.SetNotice("success", fmt.Sprintf("Section %d updated successfully!", ordinal))
	o.progress.Publish(Event{Session: st.ID, Kind: EventDone, Done: 1, Total: 1, Text: snap.Name})
	timer.Finish("refine", 1)
	diag.IncOp("pipeline", "refine", "success")
	return Outcome{Snapshot: snap, Sections: st.Total()}, nil
}

// Chat 发送一条自由问题（不带历史），把问答追加到会话。
// 远端失败以行内错误文本作为回答。
func (o *Orchestrator) Chat(ctx context.Context, st *session.State, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		err := userErr(contract.ErrInvalidInput, "Type a question first.")
		st.SetNotice("error", UserMessage(err))
		return "", err
	}
	end, err := st.Begin("")
	if err != nil {
		st.SetNotice("error", UserMessage(err))
		return "", err
	}
	defer end("")

	p, err := o.comp.PromptBuilder.Chat(message)
	if err != nil {
		diag.Record(o.log, "prompt_builder", "build failed", err, st.ID, "")
		return "", err
	}
	var reply string
	if err := o.wait(ctx, st.ID, "", p); err != nil {
		diag.Record(o.log, "gate", "wait failed", err, st.ID, "")
		reply = o.comp.Gen.Inline(err)
	} else {
		t := o.log.StartWith("llm_client", "chat", st.ID, "")
		text, err := o.comp.Gen.Attempt(ctx, p)
		if err != nil {
			o.recordInvoke(err, st.ID, "")
			reply = o.comp.Gen.Inline(err)
		} else {
			t.Finish("chat", int64(len(text)))
			reply = text
		}
	}
	st.AppendChat(
		contract.Message{Role: "user", Content: message},
		contract.Message{Role: "assistant", Content: reply},
	)
	return reply, nil
}

// Ping 发送连通性问题并返回回答（失败时为行内错误文本）。
func (o *Orchestrator) Ping(ctx context.Context) string {
	p, err := o.comp.PromptBuilder.Chat(PingPrompt)
	if err != nil {
		return o.comp.Gen.Inline(err)
	}
	return o.comp.Gen.Generate(ctx, p)
}

// sleepCtx 睡眠 d；d<=0 时仅检查取消。
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

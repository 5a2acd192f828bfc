package pipeline

// 进度事件类型。
const (
	EventStart   = "start"
	EventSection = "section"
	EventDone    = "done"
	EventError   = "error"
)

// Event 为一次生成/改写过程中的进度通知。
type Event struct {
	Session string `json:"session"`
	Kind    string `json:"kind"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Text    string `json:"text"`
}

// Progress 接收进度事件；实现不得阻塞调用方。
type Progress interface {
	Publish(Event)
}

// ProgressFunc 适配普通函数。
type ProgressFunc func(Event)

func (f ProgressFunc) Publish(e Event) { f(e) }

type nopProgress struct{}

func (nopProgress) Publish(Event) {}

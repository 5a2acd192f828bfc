package registry

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/Mist54/GenTemplate/pkg/contract"
	ordinal "github.com/Mist54/GenTemplate/plugins/assembler/ordinal"
	csvrows "github.com/Mist54/GenTemplate/plugins/decoder/csvrows"
	flaky "github.com/Mist54/GenTemplate/plugins/llmclient/flaky"
	gmi "github.com/Mist54/GenTemplate/plugins/llmclient/gemini"
	mock "github.com/Mist54/GenTemplate/plugins/llmclient/mock"
	oai "github.com/Mist54/GenTemplate/plugins/llmclient/openai"
	prpt "github.com/Mist54/GenTemplate/plugins/prompt/report"
	rfs "github.com/Mist54/GenTemplate/plugins/reader/filesystem"
	smk "github.com/Mist54/GenTemplate/plugins/splitter/marker"
	wfs "github.com/Mist54/GenTemplate/plugins/writer/filesystem"
	ws3 "github.com/Mist54/GenTemplate/plugins/writer/s3"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.DatasetDecoder, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 本地默认输入
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// csv: 表头 + 数据行，缺失值归一
	"csv": func(raw json.RawMessage) (contract.DatasetDecoder, error) { return csvrows.New(raw) },
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// marker: 整词标记拆分（默认 SECTION）
	"marker": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts smk.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return smk.New(&opts)
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// report: 填充/改写/对话
	"report": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts prpt.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return prpt.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// ordinal: 按序号升序以空行拼接
	"ordinal": func(raw json.RawMessage) (contract.Assembler, error) { return ordinal.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 本地快照目录（只增不改）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// s3: 对象存储快照（默认凭据链）
	"s3": func(raw json.RawMessage) (contract.Writer, error) {
		var opts ws3.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ws3.New(context.Background(), &opts)
	},
}

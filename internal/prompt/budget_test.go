package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

func TestMakeEstimatorDefault(t *testing.T) {
	est := MakeEstimator(0)
	assert.Equal(t, 2, est("abcdef")) // 6 字节 -> 2 token
	assert.Equal(t, 0, est(""))
	// 按 UTF-8 字节计：每个汉字 3 字节
	assert.Equal(t, 3, est("一二三四"))
}

func TestEstimatePromptAndAsk(t *testing.T) {
	p := contract.ChatPrompt{{Role: "user", Content: "abcd"}, {Role: "user", Content: "efg"}}
	// "abcd\nefg" = 8 字节
	assert.Equal(t, 2, EstimatePrompt(p, 4))
	assert.Equal(t, 2, Ask(p, 4, contract.GenOptions{}))
	assert.Equal(t, 1002, Ask(p, 4, contract.GenOptions{MaxOutputTokens: 1000}))
	assert.Equal(t, 3, EstimatePrompt(contract.TextPrompt("123456789"), 4))
}

type fixedPB struct{ overhead int }

func (fixedPB) Fill(contract.Section, contract.Dataset) (contract.Prompt, error) { return nil, nil }
func (fixedPB) Refine(string, string) (contract.Prompt, error)                  { return nil, nil }
func (fixedPB) Chat(string) (contract.Prompt, error)                            { return nil, nil }
func (f fixedPB) EstimateOverheadTokens(contract.TokenEstimator) int           { return f.overhead }

func TestOverhead(t *testing.T) {
	rem, over := Overhead(fixedPB{overhead: 5}, 4, 10)
	assert.Equal(t, 5, rem)
	assert.Equal(t, 5, over)

	rem, over = Overhead(fixedPB{overhead: 7}, 4, 0)
	assert.Equal(t, 0, rem)
	assert.Equal(t, 7, over)
}

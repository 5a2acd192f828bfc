package marker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

func split(t *testing.T, opts *Options, in string) ([]contract.Section, error) {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	return s.Split(context.Background(), strings.NewReader(in))
}

// TestSplitBasic 两个标记产出两段，序号自 1 连续。
func TestSplitBasic(t *testing.T) {
	secs, err := split(t, nil, "SECTION 1: A {x}\n\nSECTION 2: B {y}\n")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, contract.Section{Ordinal: 1, Text: "SECTION 1: A {x}"}, secs[0])
	assert.Equal(t, contract.Section{Ordinal: 2, Text: "SECTION 2: B {y}"}, secs[1])
	require.NoError(t, contract.ValidateSections(secs))
}

// TestSplitPreambleKept 首个标记前的非空文本保留为首段。
func TestSplitPreambleKept(t *testing.T) {
	secs, err := split(t, nil, "Monthly Report\n\nSECTION A\nbody\nSECTION B\n")
	require.NoError(t, err)
	require.Len(t, secs, 3)
	assert.Equal(t, "Monthly Report", secs[0].Text)
	assert.Equal(t, "SECTION A\nbody", secs[1].Text)
	assert.Equal(t, 3, secs[2].Ordinal)
}

func TestSplitPreambleDropped(t *testing.T) {
	secs, err := split(t, &Options{DropPreamble: true}, "Title\nSECTION A\nSECTION B")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "SECTION A", secs[0].Text)
	assert.Equal(t, 1, secs[0].Ordinal)
}

// TestSplitWholeWord 子串与小写不触发切分。
func TestSplitWholeWord(t *testing.T) {
	secs, err := split(t, nil, "SECTION one mentions SUBSECTIONS and section and SECTIONAL\nSECTION two")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.True(t, strings.HasPrefix(secs[1].Text, "SECTION two"))
}

// TestSplitUnicodeBoundary 紧贴非 ASCII 字母或数字的标记不是整词。
func TestSplitUnicodeBoundary(t *testing.T) {
	in := "Résumé du rapportSECTION? no: ÉtéSECTION {x}\nSECTION B {y}"
	secs, err := split(t, nil, in)
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "Résumé du rapportSECTION? no: ÉtéSECTION {x}", secs[0].Text)
	assert.Equal(t, "SECTION B {y}", secs[1].Text)

	secs, err = split(t, nil, "报告SECTION 一\nSECTION 二\nSECTIONé\n٣SECTION")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "报告SECTION 一", secs[0].Text)
	assert.Equal(t, "SECTION 二\nSECTIONé\n٣SECTION", secs[1].Text)
}

// TestSplitInlineMarker 行内出现的整词标记同样切分。
func TestSplitInlineMarker(t *testing.T) {
	secs, err := split(t, nil, "SECTION 1 see SECTION 2 below")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "SECTION 1 see", secs[0].Text)
	assert.Equal(t, "SECTION 2 below", secs[1].Text)
}

func TestSplitCRLFAndBlankRegions(t *testing.T) {
	secs, err := split(t, nil, "\r\n  \r\nSECTION A\r\nline\r\n\r\nSECTION B\r\n")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "SECTION A\nline", secs[0].Text)
}

func TestSplitNoSections(t *testing.T) {
	for _, in := range []string{"", "   \n\t"} {
		_, err := split(t, nil, in)
		assert.True(t, errors.Is(err, contract.ErrNoSections), "%q: %v", in, err)
	}
}

// TestSplitNoMarker 没有标记但有文本：整体作为一段。
func TestSplitNoMarker(t *testing.T) {
	secs, err := split(t, nil, "just text {x}")
	require.NoError(t, err)
	require.Len(t, secs, 1)

	_, err = split(t, &Options{DropPreamble: true}, "just text {x}")
	assert.ErrorIs(t, err, contract.ErrNoSections)
}

func TestSplitCustomMarker(t *testing.T) {
	secs, err := split(t, &Options{Marker: "PART"}, "PART a PART b SECTION c")
	require.NoError(t, err)
	require.Len(t, secs, 2)
	assert.Equal(t, "PART b SECTION c", secs[1].Text)
}

func TestSplitInvalidUTF8(t *testing.T) {
	_, err := split(t, nil, "SECTION \xff")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestSplitTooLarge(t *testing.T) {
	_, err := split(t, &Options{MaxTemplateBytes: 4}, "SECTION A")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestNewRejectsMultiWordMarker(t *testing.T) {
	_, err := New(&Options{Marker: "TWO WORDS"})
	assert.Error(t, err)
}

func TestSplitCanceled(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Split(ctx, strings.NewReader("SECTION A"))
	assert.ErrorIs(t, err, context.Canceled)
}

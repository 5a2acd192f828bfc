package contract

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDatasetMarshalOrder 键按列序输出，数值列推断为数字。
func TestDatasetMarshalOrder(t *testing.T) {
	d := Dataset{
		Columns: []string{"Month", "Units", "Rate", "Note"},
		Rows: []Row{
			{"Jan", "120", "0.5", "ok"},
			{"Feb", "", "1.25", "<a&b>"},
		},
	}
	got, err := d.RowsJSON()
	require.NoError(t, err)
	want := `[
  {
    "Month": "Jan",
    "Units": 120,
    "Rate": 0.5,
    "Note": "ok"
  },
  {
    "Month": "Feb",
    "Units": "",
    "Rate": 1.25,
    "Note": "<a&b>"
  }
]`
	assert.Equal(t, want, got)
}

func TestDatasetMarshalMixedColumnStaysString(t *testing.T) {
	d := Dataset{Columns: []string{"x"}, Rows: []Row{{"1"}, {"abc"}}}
	got, err := d.RowsJSON()
	require.NoError(t, err)
	assert.Contains(t, got, `"x": "1"`)
	assert.Contains(t, got, `"x": "abc"`)
}

func TestDatasetMarshalNonASCII(t *testing.T) {
	d := Dataset{Columns: []string{"城市"}, Rows: []Row{{"北京"}}}
	got, err := d.RowsJSON()
	require.NoError(t, err)
	assert.Contains(t, got, `"城市": "北京"`)
}

func TestDatasetMarshalEmpty(t *testing.T) {
	got, err := Dataset{Columns: []string{"a"}}.RowsJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestNormalizeCell(t *testing.T) {
	for _, s := range []string{"NA", "N/A", "NaN", "null", "None", "#N/A", " nan "} {
		assert.Equal(t, "", NormalizeCell(s), s)
	}
	assert.Equal(t, "Nancy", NormalizeCell("Nancy"))
	assert.Equal(t, "0", NormalizeCell("0"))
}

func TestValidateSections(t *testing.T) {
	require.NoError(t, ValidateSections([]Section{{1, "a"}, {2, "b"}}))

	cases := []struct {
		name string
		in   []Section
		want error
	}{
		{"empty", nil, ErrNoSections},
		{"gap", []Section{{1, "a"}, {3, "b"}}, ErrSeqInvalid},
		{"zero based", []Section{{0, "a"}}, ErrSeqInvalid},
		{"blank text", []Section{{1, ""}}, ErrInvariantViolation},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSections(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v got %v", tt.want, err)
			}
		})
	}
}

func TestSnapshotName(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 8*3600))
	assert.Equal(t, "report_20250101T190405Z.txt", SnapshotName(SnapshotReport, ts, 1))
	assert.Equal(t, "report_updated_20250101T190405Z_2.txt", SnapshotName(SnapshotUpdated, ts, 2))

	assert.True(t, ValidSnapshotName(SnapshotName(SnapshotUpdated, ts, 3)))
	for _, bad := range []string{"../etc/passwd", "report_x.txt", "report_20250101T190405Z.txt/../a", ""} {
		assert.False(t, ValidSnapshotName(bad), bad)
	}
}

func TestPromptText(t *testing.T) {
	assert.Equal(t, "hi", PromptText(TextPrompt("hi")))
	assert.Equal(t, "a\nb", PromptText(ChatPrompt{{Role: "system", Content: "a"}, {Role: "user", Content: "b"}}))
	assert.Equal(t, "", PromptText(42))
}

func TestGenOptionsIsZero(t *testing.T) {
	assert.True(t, GenOptions{}.IsZero())
	tmp := float32(0.7)
	assert.False(t, GenOptions{Temperature: &tmp}.IsZero())
	assert.False(t, GenOptions{MaxOutputTokens: 10}.IsZero())
}

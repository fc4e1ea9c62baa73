package dataset

import (
	"errors"
	"strings"
	"testing"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParameters(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected models.Parameters
		wantErr  error
	}{
		{
			name:     "defaults",
			line:     "10 5 2 0.9 0.9",
			expected: models.DefaultParameters(),
		},
		{
			name:     "tabs and floats",
			line:     "12.5\t0  4   1 2",
			expected: models.Parameters{PfxPeakMinValue: 12.5, MaxNbPeaks: 4, PercentSimilarity: 1, PercentStd: 2},
		},
		{name: "too few fields", line: "10 5 2 0.9", wantErr: ErrFormat},
		{name: "too many fields", line: "10 5 2 0.9 0.9 1", wantErr: ErrFormat},
		{name: "float peak count", line: "10 5 2.5 0.9 0.9", wantErr: ErrFormat},
		{name: "not a number", line: "ten 5 2 0.9 0.9", wantErr: ErrFormat},
		{name: "similarity out of range", line: "10 5 2 1.5 0.9", wantErr: models.ErrInvalidParameters},
		{name: "negative min", line: "-1 5 2 0.9 0.9", wantErr: models.ErrInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseParameters(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestReadParameters(t *testing.T) {
	input := `# pfx cfl nb sim std
10 5 2 0.9 0.9

0 0 400 0 0
`
	params, err := ReadParameters(strings.NewReader(input), "params.txt")
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, 400, params[1].MaxNbPeaks)
}

func TestReadParameters_LineNumber(t *testing.T) {
	input := "10 5 2 0.9 0.9\n10 5 2 0.9\n"
	_, err := ReadParameters(strings.NewReader(input), "params.txt")

	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 2, lineErr.Line)
	assert.Contains(t, err.Error(), "params.txt:2")
}

func TestLoadParameters(t *testing.T) {
	path := writeFile(t, "params.txt", "1 2 3 0.5 1\n")
	params, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, []models.Parameters{{PfxPeakMinValue: 1, CflPeakMinValue: 2, MaxNbPeaks: 3, PercentSimilarity: 0.5, PercentStd: 1}}, params)
}

func TestFormatParameters(t *testing.T) {
	p := models.Parameters{PfxPeakMinValue: 12.5, CflPeakMinValue: 5, MaxNbPeaks: 3, PercentSimilarity: 0.9, PercentStd: 2}
	got, err := ParseParameters(FormatParameters(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

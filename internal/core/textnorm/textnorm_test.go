package textnorm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "露营 装备", Clean("  露营 \t 装备\n"))
	assert.Equal(t, "", Clean("   "))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "full_width_latin", input: "ＩＰｈｏｎｅ 16", want: "iphone 16"},
		{name: "hashtag", input: "#露营装备#", want: "露营装备"},
		{name: "whitespace", input: "  City   Walk ", want: "city walk"},
		{name: "full_width_digits", input: "双１１", want: "双11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestParseHeat(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "1.2万", want: 12000},
		{input: "541.2万", want: 5412000},
		{input: "3亿", want: 300000000},
		{input: "1.5亿", want: 150000000},
		{input: "12,345", want: 12345},
		{input: "3.2w", want: 32000},
		{input: " 42 ", want: 42},
		{input: "", want: 0},
		{input: "hot", wantErr: true},
		{input: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseHeat(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHeat)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSeenAt(t *testing.T) {
	fallback := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	shanghai := time.FixedZone("CST", 8*3600)

	got, err := ParseSeenAt("", shanghai, fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = ParseSeenAt("2024-06-01 10:30:00", shanghai, fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 2, 30, 0, 0, time.UTC), got)

	got, err = ParseSeenAt("2024-06-01T10:30:00Z", shanghai, fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC), got)

	got, err = ParseSeenAt("1717237800", nil, fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1717237800, 0).UTC(), got)

	_, err = ParseSeenAt("not a date", nil, fallback)
	assert.Error(t, err)
}

package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForm_Points(t *testing.T) {
	testCases := []struct {
		name     string
		form     Form
		expected float64
	}{
		{"empty", Form{}, 0},
		{"nil", nil, 0},
		{"mixed", Form{Win, Win, Draw, Loss, Win}, 10},
		{"all wins", Form{Win, Win, Win, Win, Win}, 15},
		{"all losses", Form{Loss, Loss, Loss}, 0},
		{"draws", Form{Draw, Draw}, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.form.Points())
		})
	}
}

func TestParseResult(t *testing.T) {
	for in, want := range map[string]Result{
		"W": Win, "w": Win, "WIN": Win,
		"D": Draw, "draw": Draw,
		"L": Loss, " loss ": Loss,
	} {
		got, err := ParseResult(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseResult("X")
	assert.Error(t, err)
}

func TestParseForm(t *testing.T) {
	form, err := ParseForm("WWDLW")
	require.NoError(t, err)
	assert.Equal(t, Form{Win, Win, Draw, Loss, Win}, form)
	assert.Equal(t, "WWDLW", form.String())
	assert.Equal(t, 10.0, form.Points())

	_, err = ParseForm("WXD")
	assert.Error(t, err)
}

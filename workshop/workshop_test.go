package workshop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsIdempotent(t *testing.T) {
	first := Default()
	second := Default()
	assert.Same(t, first, second)
}

func TestRegistryContents(t *testing.T) {
	r := New()
	assert.Equal(t, []string{"dates", "num", "stats", "text"}, r.Names())

	for _, name := range r.Names() {
		h, ok := r.Get(name)
		require.True(t, ok, name)
		assert.NotEmpty(t, h, name)
	}

	_, ok := r.Get("os")
	assert.False(t, ok)
}

func TestHandlesReturnsCopy(t *testing.T) {
	r := New()

	handles := r.Handles()
	handles["rogue"] = Handle{"boom": func() {}}
	delete(handles, "stats")

	_, ok := r.Get("rogue")
	assert.False(t, ok)
	_, ok = r.Get("stats")
	assert.True(t, ok)
	assert.Len(t, r.Handles(), 4)
}

func TestHandlesCopiesAreDeep(t *testing.T) {
	r := New()

	handles := r.Handles()
	handles["stats"]["mean"] = "gone"
	handles["stats"]["polluted"] = 42
	delete(handles["text"], "trim")

	stats, ok := r.Get("stats")
	require.True(t, ok)
	// testify rejects func-typed arguments, so compare via a string assertion.
	meanStr, _ := stats["mean"].(string)
	assert.NotEqual(t, "gone", meanStr)
	_, polluted := stats["polluted"]
	assert.False(t, polluted)

	text, ok := r.Get("text")
	require.True(t, ok)
	_, hasTrim := text["trim"]
	assert.True(t, hasTrim)

	// A later copy starts from the pristine registry.
	fresh := r.Handles()
	_, polluted = fresh["stats"]["polluted"]
	assert.False(t, polluted)
}

func TestStats(t *testing.T) {
	t.Run("Mean", func(t *testing.T) {
		m, err := mean([]float64{1, 3})
		require.NoError(t, err)
		assert.Equal(t, 2.0, m)

		_, err = mean(nil)
		assert.Error(t, err)
	})

	t.Run("Median", func(t *testing.T) {
		m, err := median([]float64{3, 1, 2})
		require.NoError(t, err)
		assert.Equal(t, 2.0, m)

		m, err = median([]float64{1, 2, 3, 4})
		require.NoError(t, err)
		assert.Equal(t, 2.5, m)
	})

	t.Run("MinMaxSum", func(t *testing.T) {
		lo, err := minOf([]float64{3, 1, 2})
		require.NoError(t, err)
		hi, err2 := maxOf([]float64{3, 1, 2})
		require.NoError(t, err2)
		assert.Equal(t, 1.0, lo)
		assert.Equal(t, 3.0, hi)
		assert.Equal(t, 6.0, sum([]float64{3, 1, 2}))
	})

	t.Run("Std", func(t *testing.T) {
		s, err := std([]float64{2, 4, 4, 4, 5, 5, 7, 9})
		require.NoError(t, err)
		assert.InDelta(t, 2.138, s, 0.001)

		_, err = std([]float64{1})
		assert.Error(t, err)
	})

	t.Run("Quantile", func(t *testing.T) {
		q, err := quantile([]float64{1, 2, 3, 4}, 0.25)
		require.NoError(t, err)
		assert.Equal(t, 1.75, q)

		_, err = quantile([]float64{1}, 1.5)
		assert.Error(t, err)
	})
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, "007", padStart("7", 3, "0"))
	assert.Equal(t, "abcd", padStart("abcd", 3, "0"))
	assert.Equal(t, "x", padStart("x", 2, ""))

	// Width is measured in runes, not bytes.
	assert.Equal(t, "00é", padStart("é", 3, "0"))
	assert.Equal(t, "ééx", padStart("x", 3, "éé"))
}

func TestNumHelpers(t *testing.T) {
	v, err := parseNumber(" 3.5 ")
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	_, err = parseNumber("not a number")
	assert.Error(t, err)
}

func TestDates(t *testing.T) {
	t.Run("ParseLayouts", func(t *testing.T) {
		for _, in := range []string{"2024-02-29", "02/29/2024", "29.02.2024", "2024-02-29 10:30:00"} {
			iso, err := parseDate(in)
			require.NoError(t, err, in)
			assert.Equal(t, "2024-02-29", iso, in)
		}
	})

	t.Run("Parts", func(t *testing.T) {
		y, err := datePart("2024-02-29", func(tm time.Time) int { return tm.Year() })
		require.NoError(t, err)
		assert.Equal(t, 2024.0, y)

		formatted, err := formatDate("2024-02-29", "02.01.2006")
		require.NoError(t, err)
		assert.Equal(t, "29.02.2024", formatted)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := parseDate("sometime soon")
		assert.Error(t, err)
	})
}

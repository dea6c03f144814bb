package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := System{}.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

func TestFixed(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := Fixed(at)
	require.Equal(t, at, clk.Now())
	require.Equal(t, at, clk.Now())
}

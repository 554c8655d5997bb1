package main

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeries(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	start := time.Date(2024, 10, 1, 3, 45, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		amp := 20.0
		if i >= n/2 {
			amp = 120.0
		}
		c := 25000 + amp*math.Sin(float64(i)/5) + float64(i)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d\n", start.Add(time.Duration(i)*5*time.Minute).Format(time.RFC3339), c, c+5, c-5, c, 1000+i)
	}
	path := filepath.Join(t.TempDir(), "series.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestBacktestCommand(t *testing.T) {
	in := writeSeries(t, 200)
	out := filepath.Join(t.TempDir(), "results", "backtest_results.csv")

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--csv", in, "--out", out, "--states", "2", "--capital", "250000", "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	summary := stdout.String()
	assert.Contains(t, summary, "Initial capital  250000.00")
	assert.Contains(t, summary, "Rows             180 (warmup dropped 20)")
	assert.Contains(t, summary, "Regimes")

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Len(t, lines, 181)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,open,high,low,close,volume,return"))
}

func TestBacktestRejectsBadFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--csv", writeSeries(t, 50), "--trade-counting", "bogus", "--out", filepath.Join(t.TempDir(), "x.csv")})
	assert.Error(t, cmd.Execute())
}

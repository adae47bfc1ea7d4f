package useragents

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chromeUA  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"
	firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
)

func writeStats(t *testing.T, dir, day, body string) {
	t.Helper()
	p := filepath.Join(dir, day[:4], day[5:7], day+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func TestDefaultFallsBackWithoutFiles(t *testing.T) {
	p := NewPool(Options{Dir: t.TempDir(), Fallback: "fallback-ua"})
	assert.Equal(t, "fallback-ua", p.Default())

	p = NewPool(Options{Fallback: "fallback-ua"})
	assert.Equal(t, "fallback-ua", p.Default())
}

func TestDefaultUsesNewestFileAndReloads(t *testing.T) {
	dir := t.TempDir()
	writeStats(t, dir, "2023-12-30", `{"by_frequency":[{"os":"Linux","browser":"Firefox","useragent":"`+firefoxUA+`"}]}`)
	writeStats(t, dir, "2024-01-02", `{"by_frequency":[{"useragent":"   "},{"os":"Windows","browser":"Chrome","useragent":"`+chromeUA+`"}]}`)

	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	p := NewPool(Options{Dir: dir, Fallback: "fallback-ua", Refresh: time.Minute})
	p.now = func() time.Time { return now }

	assert.Equal(t, chromeUA, p.Default())
	require.Len(t, p.Entries(), 1)

	writeStats(t, dir, "2024-02-01", `{"by_frequency":[{"useragent":"`+firefoxUA+`"}]}`)
	assert.Equal(t, chromeUA, p.Default(), "rescan is rate limited")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, firefoxUA, p.Default())
}

func TestBrokenNewestFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	writeStats(t, dir, "2024-01-01", `{"by_frequency":[{"useragent":"`+chromeUA+`"}]}`)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	p := NewPool(Options{Dir: dir, Fallback: "fallback-ua"})
	p.now = func() time.Time { return now }
	require.Equal(t, chromeUA, p.Default())

	writeStats(t, dir, "2024-01-03", `{not json`)
	now = now.Add(time.Hour)
	assert.Equal(t, chromeUA, p.Default())
}

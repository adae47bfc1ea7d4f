// Package useragents serves the default user agent from the newest daily
// statistics file (<dir>/<YYYY>/<MM>/<YYYY-MM-DD>.json).
package useragents

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mssola/useragent"
)

type Entry struct {
	OS        string `json:"os"`
	Browser   string `json:"browser"`
	UserAgent string `json:"useragent"`
}

type statsFile struct {
	ByFrequency []Entry `json:"by_frequency"`
}

type Options struct {
	Dir      string
	Fallback string
	// Refresh bounds how often the directory is rescanned.
	Refresh time.Duration
	Logger  *slog.Logger
}

type Pool struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	loadedAt time.Time
	current  string
	entries  []Entry
}

func NewPool(opts Options) *Pool {
	if opts.Refresh <= 0 {
		opts.Refresh = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{opts: opts, now: time.Now}
}

// Default returns the most frequent agent of the newest file, or the
// configured fallback when no usable file exists.
func (p *Pool) Default() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
	if len(p.entries) > 0 {
		return p.entries[0].UserAgent
	}
	return p.opts.Fallback
}

// Entries returns a copy of the loaded agents, most frequent first.
func (p *Pool) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
	return append([]Entry(nil), p.entries...)
}

func (p *Pool) refreshLocked() {
	if p.opts.Dir == "" {
		return
	}
	now := p.now()
	if !p.loadedAt.IsZero() && now.Sub(p.loadedAt) < p.opts.Refresh {
		return
	}
	p.loadedAt = now

	newest := newestFile(p.opts.Dir)
	if newest == "" || newest == p.current {
		return
	}
	entries, err := load(newest)
	if err != nil {
		p.opts.Logger.Warn("user agent file unreadable", "path", newest, "err", err)
		return
	}
	p.current = newest
	p.entries = entries
	p.opts.Logger.Info("user agents loaded", "path", newest, "count", len(entries))
}

func newestFile(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "[0-9][0-9][0-9][0-9]", "[0-9][0-9]", "*.json"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

func load(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f statsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(f.ByFrequency))
	for _, e := range f.ByFrequency {
		ua := strings.TrimSpace(e.UserAgent)
		if ua == "" {
			continue
		}
		if name, _ := useragent.New(ua).Browser(); name == "" {
			continue
		}
		e.UserAgent = ua
		out = append(out, e)
	}
	return out, nil
}

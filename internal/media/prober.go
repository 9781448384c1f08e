package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Metadata describes a remote media source before it is fetched.
type Metadata struct {
	Title    string
	Duration float64 // seconds
}

// Prober resolves metadata for a media URL.
type Prober interface {
	Probe(ctx context.Context, url string) (Metadata, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, url string) (Metadata, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, url string) (Metadata, error) {
	return f(ctx, url)
}

// YTDLPProber fetches metadata using the yt-dlp CLI tool. The scheduler uses
// the reported duration for admission checks before any download happens.
type YTDLPProber struct {
	Binary  string
	Args    []string
	Run     CommandRunner
	Timeout time.Duration
}

// NewYTDLPProber constructs a Prober that shells out to yt-dlp.
func NewYTDLPProber(binary string, timeout time.Duration) *YTDLPProber {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLPProber{
		Binary:  binary,
		Args:    []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download"},
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Probe executes yt-dlp for the provided URL and parses the JSON response.
func (p *YTDLPProber) Probe(ctx context.Context, url string) (Metadata, error) {
	if p == nil {
		return Metadata{}, ErrProviderUnavailable
	}
	if p.Run == nil {
		p.Run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	args := append([]string{}, p.Args...)
	args = append(args, url)

	out, err := p.Run(execCtx, p.Binary, args...)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp probe: %w", err)
	}

	var payload struct {
		Title    string  `json:"title"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Metadata{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}

	if payload.Duration <= 0 {
		return Metadata{}, fmt.Errorf("yt-dlp reported no duration for %s", url)
	}

	return Metadata{Title: payload.Title, Duration: payload.Duration}, nil
}

type probeEntry struct {
	metadata Metadata
	expires  time.Time
}

// CachingProber wraps another Prober with a TTL-based in-memory cache, so a
// user adjusting options before confirming does not re-probe the same URL.
type CachingProber struct {
	base Prober
	ttl  time.Duration

	mu    sync.RWMutex
	items map[string]probeEntry
}

// NewCachingProber returns a Prober that caches probes for the provided TTL.
func NewCachingProber(base Prober, ttl time.Duration) *CachingProber {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingProber{
		base:  base,
		ttl:   ttl,
		items: make(map[string]probeEntry),
	}
}

// Probe returns cached metadata when available, otherwise it delegates to the
// underlying prober and stores the result.
func (c *CachingProber) Probe(ctx context.Context, url string) (Metadata, error) {
	if c == nil || c.base == nil {
		return Metadata{}, ErrProviderUnavailable
	}

	now := time.Now()

	c.mu.RLock()
	entry, ok := c.items[url]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.metadata, nil
	}

	metadata, err := c.base.Probe(ctx, url)
	if err != nil {
		return Metadata{}, err
	}

	c.mu.Lock()
	c.items[url] = probeEntry{metadata: metadata, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return metadata, nil
}

// Package generator builds synthetic alert events for exercising the notifier.
// It supports deterministic generation via seed-based RNG for reproducible test data.
package generator

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"notifier/internal/events"
)

// Config controls what the generator produces.
type Config struct {
	Seed             int64    // 0 = seeded from the clock
	Hosts            []string // Monitored hosts to pick from
	ProtocolDist     string   // PROTOCOL:percent,... summing to 100
	RecoveredPercent int      // Share of events that are recoveries
	Emails           []string // Recipients copied onto every event
	ChatUsernames    []string // Recipients copied onto every event
}

// DefaultConfig returns a configuration suitable for local runs.
func DefaultConfig() Config {
	return Config{
		Hosts:            []string{"api.example.com", "db.example.com", "cache.example.com"},
		ProtocolDist:     "HTTPS:50,HTTP:25,TCP:25",
		RecoveredPercent: 30,
	}
}

// weightedValue represents a single value in a weighted distribution.
type weightedValue struct {
	value  string
	weight int
}

// failure is a canned error for down events.
type failure struct {
	message string
	code    int
}

var failures = []failure{
	{message: "Connection timeout", code: 504},
	{message: "Service unavailable", code: 503},
	{message: "Bad gateway", code: 502},
	{message: "Connection refused", code: 0},
	{message: "Internal server error", code: 500},
}

// Generator creates alert events according to its Config.
type Generator struct {
	rng       *rand.Rand
	cfg       Config
	protocols []weightedValue
	now       func() time.Time
}

// New creates a generator. It fails on an invalid distribution or an empty host list.
func New(cfg Config) (*Generator, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("hosts cannot be empty")
	}
	if cfg.RecoveredPercent < 0 || cfg.RecoveredPercent > 100 {
		return nil, fmt.Errorf("recovered percent must be 0-100, got %d", cfg.RecoveredPercent)
	}

	dist, err := ParseDistribution(cfg.ProtocolDist)
	if err != nil {
		return nil, fmt.Errorf("invalid protocol distribution: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Generator{
		rng:       rand.New(rand.NewSource(seed)),
		cfg:       cfg,
		protocols: weighted(dist),
		now:       time.Now,
	}, nil
}

// weighted orders a distribution by key so a seeded generator is reproducible.
func weighted(dist map[string]int) []weightedValue {
	out := make([]weightedValue, 0, len(dist))
	for value, weight := range dist {
		out = append(out, weightedValue{value: value, weight: weight})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out
}

// Generate creates one alert event. Server ids are derived from the host's
// position in Config.Hosts, starting at 1.
func (g *Generator) Generate() *events.AlertEvent {
	idx := g.rng.Intn(len(g.cfg.Hosts))
	ev := &events.AlertEvent{
		ServerID:      uint32(idx + 1),
		ServerHost:    g.cfg.Hosts[idx],
		Protocol:      g.selectWeighted(g.protocols),
		IsSuccess:     g.rng.Intn(100) < g.cfg.RecoveredPercent,
		Timestamp:     g.now().UTC(),
		Emails:        append([]string(nil), g.cfg.Emails...),
		ChatUsernames: append([]string(nil), g.cfg.ChatUsernames...),
	}
	if !ev.IsSuccess {
		f := failures[g.rng.Intn(len(failures))]
		ev.ErrorMessage = f.message
		ev.StatusCode = f.code
	}
	return ev
}

// selectWeighted selects a value from a weighted distribution using cumulative probability.
func (g *Generator) selectWeighted(choices []weightedValue) string {
	if len(choices) == 0 {
		return "unknown"
	}

	total := 0
	for _, c := range choices {
		total += c.weight
	}
	if total == 0 {
		return choices[0].value
	}

	r := g.rng.Intn(total)
	cumulative := 0
	for _, c := range choices {
		cumulative += c.weight
		if r < cumulative {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}

// DownEvent builds a fixed "server is down" event.
func DownEvent(host, protocol, errorMessage string, statusCode int) *events.AlertEvent {
	return &events.AlertEvent{
		ServerID:     1,
		ServerHost:   host,
		Protocol:     protocol,
		ErrorMessage: errorMessage,
		StatusCode:   statusCode,
		Timestamp:    time.Now().UTC(),
	}
}

// RecoveredEvent builds a fixed "server recovered" event.
func RecoveredEvent(host, protocol string) *events.AlertEvent {
	return &events.AlertEvent{
		ServerID:   1,
		ServerHost: host,
		Protocol:   protocol,
		IsSuccess:  true,
		Timestamp:  time.Now().UTC(),
	}
}

// ParseDistribution parses "KEY:PERCENT,..." into a map. Percentages must sum to 100.
func ParseDistribution(distStr string) (map[string]int, error) {
	result := make(map[string]int)
	if strings.TrimSpace(distStr) == "" {
		return result, fmt.Errorf("distribution string cannot be empty")
	}

	total := 0
	for _, part := range strings.Split(distStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid distribution format: %s (expected KEY:PERCENT)", part)
		}

		var percent int
		if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &percent); err != nil {
			return nil, fmt.Errorf("invalid percentage in %s: %w", part, err)
		}
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("percentage must be 0-100, got %d in %s", percent, part)
		}

		result[strings.TrimSpace(key)] = percent
		total += percent
	}

	if total != 100 {
		return nil, fmt.Errorf("distribution percentages must sum to 100, got %d", total)
	}
	return result, nil
}

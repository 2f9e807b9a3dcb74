// Package content produces the narrative text attached to a fortune. It asks
// a chain of backends in priority order and falls back to fixed defaults; no
// backend failure is ever returned to the caller.
package content

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dailyfortune/internal/tmpl"
)

const (
	DefaultProcess   = "The crystal ball glows with a mysterious light..."
	DefaultAdvice    = "Stay optimistic and good luck will follow."
	DefaultTimeout   = 30 * time.Second
	DefaultMaxLength = 100
)

// Observer receives one call per backend attempt.
type Observer interface {
	ObserveBackend(backend, outcome string, d time.Duration)
}

// Attempt outcomes reported to the Observer.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Config configures a Pipeline.
type Config struct {
	Enabled bool
	Tiers   []Tier
	// Timeout bounds each backend attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxLength caps each field in characters. Zero means DefaultMaxLength.
	MaxLength int
	Persona   string
	// Nil templates use DefaultProcessPrompt and DefaultAdvicePrompt.
	ProcessPrompt  *tmpl.Template
	AdvicePrompt   *tmpl.Template
	DefaultProcess string
	DefaultAdvice  string
	Observer       Observer
}

// Result is the generated narrative.
type Result struct {
	Process string
	Advice  string
	// Backend names the backend that produced the text, or "" for defaults.
	Backend string
}

// Pipeline is safe for concurrent use. Its configuration is fixed at
// construction.
type Pipeline struct {
	cfg Config
}

// New returns a Pipeline for cfg.
func New(cfg Config) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.ProcessPrompt == nil {
		cfg.ProcessPrompt = tmpl.MustParse(DefaultProcessPrompt, PromptKeys)
	}
	if cfg.AdvicePrompt == nil {
		cfg.AdvicePrompt = tmpl.MustParse(DefaultAdvicePrompt, PromptKeys)
	}
	if cfg.DefaultProcess == "" {
		cfg.DefaultProcess = DefaultProcess
	}
	if cfg.DefaultAdvice == "" {
		cfg.DefaultAdvice = DefaultAdvice
	}
	cfg.Tiers = append([]Tier(nil), cfg.Tiers...)
	return &Pipeline{cfg: cfg}
}

// Tiers returns the configured fallback chain.
func (p *Pipeline) Tiers() []Tier {
	return append([]Tier(nil), p.cfg.Tiers...)
}

func (p *Pipeline) defaults() Result {
	return Result{Process: p.cfg.DefaultProcess, Advice: p.cfg.DefaultAdvice}
}

// Generate returns narrative text for c.
func (p *Pipeline) Generate(ctx context.Context, c Context) Result {
	if !p.cfg.Enabled || len(p.cfg.Tiers) == 0 {
		return p.defaults()
	}

	prompt, err := BuildPrompt(p.cfg.Persona, p.cfg.ProcessPrompt, p.cfg.AdvicePrompt, c)
	if err != nil {
		slog.Warn("building content prompt", "error", err)
		return p.defaults()
	}
	slog.Debug("content prompt built", "user_id", c.UserID, "estimated_tokens", estimateTokens(prompt))

	for _, tier := range p.cfg.Tiers {
		if tier.Backend == nil {
			continue
		}
		name := tier.Backend.Name()
		reply, err := p.attempt(ctx, tier.Backend, prompt)
		if err != nil {
			slog.Warn("content backend failed", "backend", name, "tier", tier.Kind.String(), "error", err)
			continue
		}
		if strings.TrimSpace(reply) == "" {
			slog.Warn("content backend returned empty reply", "backend", name, "tier", tier.Kind.String())
			continue
		}

		process, advice := Parse(reply)
		res := Result{
			Process: Normalize(process, p.cfg.MaxLength),
			Advice:  Normalize(advice, p.cfg.MaxLength),
			Backend: name,
		}
		if res.Process == "" {
			res.Process = p.cfg.DefaultProcess
		}
		if res.Advice == "" {
			res.Advice = p.cfg.DefaultAdvice
		}
		slog.Info("content generated", "backend", name, "tier", tier.Kind.String())
		return res
	}
	return p.defaults()
}

type completion struct {
	text string
	err  error
}

// attempt runs one backend call raced against the per-attempt deadline.
func (p *Pipeline) attempt(ctx context.Context, b Backend, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan completion, 1)
	go func() {
		text, err := b.Complete(ctx, prompt, p.cfg.Timeout)
		ch <- completion{text: text, err: err}
	}()

	var r completion
	select {
	case r = <-ch:
	case <-ctx.Done():
		r = completion{err: ctx.Err()}
	}
	p.observe(b.Name(), r, time.Since(start))
	return r.text, r.err
}

func (p *Pipeline) observe(name string, r completion, d time.Duration) {
	if p.cfg.Observer == nil {
		return
	}
	outcome := OutcomeSuccess
	switch {
	case errors.Is(r.err, context.DeadlineExceeded):
		outcome = OutcomeTimeout
	case r.err != nil:
		outcome = OutcomeError
	case strings.TrimSpace(r.text) == "":
		outcome = OutcomeEmpty
	}
	p.cfg.Observer.ObserveBackend(name, outcome, d)
}

// HealthPrompt is sent by HealthCheck.
const HealthPrompt = "REPLY `PONG` ONLY"

// BackendStatus is the health of one tier.
type BackendStatus struct {
	Backend string        `json:"backend"`
	Tier    string        `json:"tier"`
	OK      bool          `json:"ok"`
	Reply   string        `json:"reply,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// HealthCheck pings every tier concurrently. A tier is healthy when it
// replies with PONG within the timeout.
func (p *Pipeline) HealthCheck(ctx context.Context) []BackendStatus {
	out := make([]BackendStatus, len(p.cfg.Tiers))
	var g errgroup.Group
	for i, tier := range p.cfg.Tiers {
		if tier.Backend == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			text, err := p.attempt(ctx, tier.Backend, HealthPrompt)
			st := BackendStatus{
				Backend: tier.Backend.Name(),
				Tier:    tier.Kind.String(),
				Latency: time.Since(start),
				Reply:   Normalize(text, 40),
			}
			if err != nil {
				st.Error = err.Error()
			} else {
				st.OK = strings.Contains(strings.ToUpper(text), "PONG")
				if !st.OK {
					st.Error = "unexpected reply"
				}
			}
			out[i] = st
			return nil
		})
	}
	_ = g.Wait()
	return slices.DeleteFunc(out, func(st BackendStatus) bool { return st.Backend == "" })
}

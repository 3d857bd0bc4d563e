// Package tier materializes the abstract (L0) and overview (L1) tiers of
// nodes. Leaves summarize their detail content; directories aggregate their
// children's abstracts. Generation is keyed by a digest of its input, so
// regenerating unchanged input never calls the language model twice.
package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/merkle"
	"github.com/papercomputeco/strata/pkg/storage"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

const (
	defaultOverviewTokens = 2000
	defaultMaxInputTokens = 8000
	defaultSmallFanout    = 8
	abstractTokens        = 120
	maxAbstractLen        = 400
	conflictRetries       = 5
)

// Outcome reports what Generate did.
type Outcome int

const (
	// Generated means the language model produced new text.
	Generated Outcome = iota

	// Cached means text for the same input was found in the cache.
	Cached

	// Unchanged means the tier already held text for the current input.
	Unchanged

	// Superseded means the input changed while generating; nothing was
	// written.
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Generated:
		return "generated"
	case Cached:
		return "cached"
	case Unchanged:
		return "unchanged"
	case Superseded:
		return "superseded"
	}
	return "unknown"
}

// Config tunes generation.
type Config struct {
	// OverviewTokens caps L1 text. Defaults to 2000.
	OverviewTokens int

	// MaxInputTokens caps the input sent for one generation. Defaults to 8000.
	MaxInputTokens int

	// SmallFanout is the largest child count for which a directory overview
	// also reads its children's overviews. Defaults to 8.
	SmallFanout int

	// Tokenizer defaults to Approx.
	Tokenizer Tokenizer

	// Busy reports whether background jobs still target u; Refresh leaves
	// such directories to those jobs.
	Busy func(u string) bool
}

// Generator produces tier text through a language model.
type Generator struct {
	tree   *tree.Tree
	blobs  storage.Driver
	llm    llm.Completer
	cfg    Config
	logger *slog.Logger
}

// New creates a Generator. blobs holds the gen/ cache index and must be the
// store backing t.
func New(t *tree.Tree, blobs storage.Driver, c llm.Completer, cfg Config, log *slog.Logger) *Generator {
	if cfg.OverviewTokens <= 0 {
		cfg.OverviewTokens = defaultOverviewTokens
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = defaultMaxInputTokens
	}
	if cfg.SmallFanout <= 0 {
		cfg.SmallFanout = defaultSmallFanout
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = Approx{}
	}
	if cfg.Busy == nil {
		cfg.Busy = func(string) bool { return false }
	}

	return &Generator{
		tree:   t,
		blobs:  blobs,
		llm:    c,
		cfg:    cfg,
		logger: logger.Component(log, "tier"),
	}
}

// CacheKey is the generation cache key for input at level.
func CacheKey(level tree.Level, input string) string {
	return merkle.Digest(string(level), PromptVersion, input)
}

// CachePath is the blob path mapping a cache key to a tier hash.
func CachePath(key string) string {
	return "gen/" + key
}

// Generate materializes one L0 or L1 tier of u. Language model failures
// are returned as *errs.ProviderError for the caller to retry.
func (g *Generator) Generate(ctx context.Context, u string, level tree.Level) (Outcome, error) {
	if level != tree.L0 && level != tree.L1 {
		return 0, errs.Invalid("level", string(level), "only abstract and overview tiers are generated")
	}

	n, err := g.tree.Resolve(u)
	if err != nil {
		return 0, err
	}

	input, err := g.input(ctx, n, level)
	if err != nil {
		return 0, err
	}
	key := CacheKey(level, input)

	if ts := n.Tier(level); ts.InputKey == key && ts.Hash != "" {
		if ts.Status == tree.StatusReady {
			return Unchanged, nil
		}
		// same input as the text already held
		err := g.write(ctx, u, level, key, func(n *tree.Node) (*tree.Node, error) {
			return g.tree.SetTierStatus(ctx, u, n.Version, level, tree.StatusReady, nil)
		})
		return Unchanged, err
	}

	text, cached, err := g.lookup(ctx, key)
	if err != nil {
		return 0, err
	}

	outcome := Cached
	if !cached {
		text, err = g.complete(ctx, n, level, input)
		if err != nil {
			return 0, err
		}
		outcome = Generated
	}

	superseded := false
	err = g.write(ctx, u, level, key, func(n *tree.Node) (*tree.Node, error) {
		return g.tree.WriteTier(ctx, u, n.Version, level, text, key)
	})
	if errors.Is(err, errSuperseded) {
		superseded = true
	} else if err != nil {
		return 0, err
	}

	if outcome == Generated {
		if err := g.blobs.Put(ctx, CachePath(key), []byte(merkle.HashString(text))); err != nil {
			g.logger.Warn("caching tier failed", "uri", u, "level", level, "err", err)
		}
	}
	if superseded {
		g.logger.Debug("tier input changed during generation", "uri", u, "level", level)
		return Superseded, nil
	}

	g.logger.Debug("tier written", "uri", u, "level", level, "outcome", outcome)
	return outcome, nil
}

var errSuperseded = errors.New("tier input superseded")

// write retries fn on version conflicts, re-checking that the input key is
// still current before each attempt.
func (g *Generator) write(ctx context.Context, u string, level tree.Level, key string, fn func(n *tree.Node) (*tree.Node, error)) error {
	return tree.RetryOnConflict(ctx, conflictRetries, func() error {
		n, err := g.tree.Resolve(u)
		if err != nil {
			return err
		}
		input, err := g.input(ctx, n, level)
		if err != nil {
			return err
		}
		if CacheKey(level, input) != key {
			return errSuperseded
		}
		_, err = fn(n)
		return err
	})
}

// lookup reads cached text for key.
func (g *Generator) lookup(ctx context.Context, key string) (string, bool, error) {
	hash, err := g.blobs.Get(ctx, CachePath(key))
	if storage.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Provider("blob", "get", err)
	}

	text, err := g.blobs.Get(ctx, tree.TierPath(string(hash)))
	if storage.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Provider("blob", "get", err)
	}
	return string(text), true, nil
}

func (g *Generator) complete(ctx context.Context, n *tree.Node, level tree.Level, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}

	name := n.Name()
	req := llm.Request{Context: input}
	switch {
	case level == tree.L0:
		req.System, req.Prompt, req.MaxTokens = abstractSystem, abstractPrompt(name), abstractTokens
	case n.IsDir():
		req.System, req.Prompt, req.MaxTokens = dirOverviewSystem, dirOverviewPrompt(name), g.cfg.OverviewTokens
	default:
		req.System, req.Prompt, req.MaxTokens = leafOverviewSystem, leafOverviewPrompt(name), g.cfg.OverviewTokens
	}

	out, err := g.llm.Complete(ctx, req)
	if err != nil {
		if !errs.IsProvider(err) && ctx.Err() == nil {
			err = errs.Provider("llm", "complete", err)
		}
		return "", err
	}

	out = strings.TrimSpace(out)
	if level == tree.L0 {
		return FirstSentence(out), nil
	}
	return g.cfg.Tokenizer.Truncate(out, g.cfg.OverviewTokens), nil
}

// input builds the text a tier is generated from.
func (g *Generator) input(ctx context.Context, n *tree.Node, level tree.Level) (string, error) {
	if level == tree.L0 {
		if !n.Overview.Status.Usable() {
			return "", errs.Invalid("tier", n.URI, "abstract requires an overview")
		}
		text, err := g.tree.ReadTier(ctx, n, tree.L1)
		if err != nil {
			return "", err
		}
		return g.cfg.Tokenizer.Truncate(text, g.cfg.MaxInputTokens), nil
	}

	if !n.IsDir() {
		if !n.Detail.Status.Usable() {
			return "", errs.Invalid("tier", n.URI, "overview requires detail content")
		}
		text, err := g.tree.ReadTier(ctx, n, tree.L2)
		if err != nil {
			return "", err
		}
		return g.cfg.Tokenizer.Truncate(text, g.cfg.MaxInputTokens), nil
	}

	return g.directoryInput(ctx, n)
}

// directoryInput lists children as "name: abstract" lines, adding their
// overviews when the directory is small.
func (g *Generator) directoryInput(ctx context.Context, n *tree.Node) (string, error) {
	children, err := g.tree.List(n.URI, false)
	if err != nil {
		return "", err
	}

	small := len(children) <= g.cfg.SmallFanout
	perChild := g.cfg.MaxInputTokens
	if len(children) > 0 {
		perChild = g.cfg.MaxInputTokens / len(children)
	}

	var b strings.Builder
	for _, c := range children {
		if c.Abstract.Status == tree.StatusPending {
			return "", errs.Invalid("tier", n.URI, "child "+c.Name()+" is still pending")
		}

		b.WriteString(c.Name())
		if c.Abstract.Status.Usable() {
			abstract, err := g.tree.ReadTier(ctx, c, tree.L0)
			if err != nil && !errs.IsNotFound(err) {
				return "", err
			}
			if abstract != "" {
				b.WriteString(": ")
				b.WriteString(abstract)
			}
		}
		b.WriteByte('\n')

		if small && c.Overview.Status.Usable() {
			overview, err := g.tree.ReadTier(ctx, c, tree.L1)
			if err != nil && !errs.IsNotFound(err) {
				return "", err
			}
			if overview != "" {
				b.WriteString(indent(g.cfg.Tokenizer.Truncate(overview, perChild)))
				b.WriteByte('\n')
			}
		}
	}

	return g.cfg.Tokenizer.Truncate(b.String(), g.cfg.MaxInputTokens), nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// Fail records a failed generation attempt and bumps the tier's attempt count.
// A tier that held earlier text degrades to stale and stays readable;
// otherwise it becomes failed.
func (g *Generator) Fail(ctx context.Context, u string, level tree.Level, cause error) error {
	return tree.RetryOnConflict(ctx, conflictRetries, func() error {
		n, err := g.tree.Resolve(u)
		if err != nil {
			return err
		}

		status := tree.StatusFailed
		if n.Tier(level).Hash != "" {
			status = tree.StatusStale
		}
		_, err = g.tree.SetTierStatus(ctx, u, n.Version, level, status, cause)
		return err
	})
}

// Refresh lazily regenerates a directory whose tiers were flagged dirty by
// a child mutation, refreshing dirty child directories first. Directories
// with pending children or queued jobs are left alone.
func (g *Generator) Refresh(ctx context.Context, u string) error {
	n, err := g.tree.Resolve(u)
	if err != nil {
		return err
	}
	if !n.IsDir() || g.cfg.Busy(n.URI) {
		return nil
	}

	dirty, _ := g.tree.Dirty(n.URI)
	if !dirty && n.Overview.Status.Usable() && n.Abstract.Status.Usable() {
		return nil
	}

	children, err := g.tree.List(n.URI, false)
	if err != nil {
		return err
	}
	for _, c := range children {
		if !c.IsDir() {
			continue
		}
		if err := g.Refresh(ctx, c.URI); err != nil {
			return err
		}
	}

	if g.tree.Pending(n.URI) {
		return nil
	}
	if taken := g.tree.TakeDirtyTiers(n.URI); dirty && !taken {
		// a concurrent refresh took the flag
		return nil
	}

	for _, level := range []tree.Level{tree.L1, tree.L0} {
		if _, err := g.Generate(ctx, n.URI, level); err != nil {
			g.tree.MarkDirty(n.URI)
			return fmt.Errorf("refreshing %s %s: %w", n.URI, level, err)
		}
	}

	g.logger.Debug("directory refreshed", "uri", n.URI, "depth", uri.Depth(n.URI))
	return nil
}

// FirstSentence returns the first sentence of s, bounded in length.
func FirstSentence(s string) string {
	s = strings.TrimSpace(s)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		s = strings.TrimSpace(line)
	}

	for i, r := range s {
		if r == '。' || r == '！' || r == '？' {
			s = s[:i+utf8.RuneLen(r)]
			break
		}
		if (r == '.' || r == '!' || r == '?') && i+1 < len(s) && s[i+1] == ' ' {
			s = s[:i+1]
			break
		}
	}

	if len(s) > maxAbstractLen {
		cut := strings.LastIndex(s[:maxAbstractLen], " ")
		if cut <= 0 {
			cut = maxAbstractLen
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}

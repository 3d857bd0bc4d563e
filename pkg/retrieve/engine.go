// Package retrieve answers queries over the node tree. Its default mode
// localizes the query among a scope's children by vector similarity and
// drills down through the best-scoring directories, recording every
// decision in a trajectory.
package retrieve

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/index"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
	"github.com/papercomputeco/strata/pkg/vector"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeRecursive Mode = "recursive"
	ModeFlat      Mode = "flat"
	ModeGlob      Mode = "glob"
	ModeGrep      Mode = "grep"
)

// ParseMode maps a name to a Mode; empty selects ModeRecursive.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return ModeRecursive, nil
	case ModeRecursive, ModeFlat, ModeGlob, ModeGrep:
		return m, nil
	}
	return "", errs.Invalid("mode", s, "expected recursive, flat, glob or grep")
}

// Decision records what the engine did with a visited node.
type Decision string

const (
	// DecisionExpand means the directory's children were explored.
	DecisionExpand Decision = "expand"

	// DecisionStop means the node scored above the threshold but was not
	// explored further: a matched leaf, or a directory cut by the depth or
	// top-K limit.
	DecisionStop Decision = "stop"

	// DecisionReject means the node scored below the threshold.
	DecisionReject Decision = "reject"
)

const demotedFactor = 0.5

// Config holds the fixed retrieval constants.
type Config struct {
	// Threshold is the minimum cosine similarity for a node to be kept.
	// Defaults to 0.30.
	Threshold float32

	// MaxDepth bounds drill-down below the scope. Defaults to 8.
	MaxDepth int

	// DirTopK caps the directories expanded per level. Defaults to 5.
	DirTopK int

	// DefaultLimit applies when a query has no limit. Defaults to 10.
	DefaultLimit int

	// DisableLexicalFallback makes embedding failures fail the query
	// instead of degrading to term matching.
	DisableLexicalFallback bool
}

// Query is one retrieval request.
type Query struct {
	Text  string
	Scope string
	Limit int
	Mode  Mode

	// Threshold overrides Config.Threshold when set. Zero keeps every
	// scored node.
	Threshold *float32

	// IgnoreCase and Regex tune grep mode.
	IgnoreCase bool
	Regex      bool
}

// Step is one visited node.
type Step struct {
	URI       string   `json:"uri"`
	Depth     int      `json:"depth"`
	Score     float32  `json:"score"`
	Decision  Decision `json:"decision"`
	Condition string   `json:"condition,omitempty"`
}

// Result is a ranked match.
type Result struct {
	URI      string    `json:"uri"`
	Kind     tree.Kind `json:"kind"`
	Score    float32   `json:"score"`
	Level    string    `json:"level,omitempty"`
	Abstract string    `json:"abstract,omitempty"`

	// Path lists the directories visited from the scope down to the
	// result's parent.
	Path []string `json:"path,omitempty"`

	// Snippet is the first matching line in grep and lexical modes.
	Snippet string `json:"snippet,omitempty"`

	Condition     string `json:"condition,omitempty"`
	LowConfidence bool   `json:"low_confidence,omitempty"`
}

// Trajectory is the record of one retrieval.
type Trajectory struct {
	Query      string   `json:"query"`
	Scope      string   `json:"scope"`
	Mode       Mode     `json:"mode"`
	Conditions []string `json:"conditions,omitempty"`
	Steps      []Step   `json:"steps"`
	Results    []Result `json:"results"`

	// LowConfidence is set when embedding failed and results come from
	// lexical matching.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Engine runs retrievals. It is safe for concurrent use.
type Engine struct {
	tree       *tree.Tree
	index      *index.Indexer
	conditions ConditionGenerator
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger
}

// New creates an engine. conditions backs Search; nil uses Identity.
func New(t *tree.Tree, ix *index.Indexer, conditions ConditionGenerator, cfg Config, log *slog.Logger) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.30
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 8
	}
	if cfg.DirTopK <= 0 {
		cfg.DirTopK = 5
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if conditions == nil {
		conditions = Identity{}
	}
	return &Engine{
		tree:       t,
		index:      ix,
		conditions: conditions,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Component(log, "retrieve"),
	}
}

// Find retrieves with the raw query as the only condition.
func (e *Engine) Find(ctx context.Context, q Query) (*Trajectory, error) {
	return e.run(ctx, q, Identity{})
}

// Search retrieves with the engine's condition generator, exploring each
// condition in parallel.
func (e *Engine) Search(ctx context.Context, q Query) (*Trajectory, error) {
	return e.run(ctx, q, e.conditions)
}

func (e *Engine) run(ctx context.Context, q Query, gen ConditionGenerator) (*Trajectory, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errs.Invalid("query", q.Text, "empty query")
	}
	if q.Mode == "" {
		q.Mode = ModeRecursive
	}
	if q.Limit <= 0 {
		q.Limit = e.cfg.DefaultLimit
	}
	threshold := e.cfg.Threshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	q.Threshold = &threshold
	if q.Scope == "" {
		q.Scope = uri.Root
	}

	scope, err := e.tree.Resolve(q.Scope)
	if err != nil {
		return nil, err
	}
	q.Scope = scope.URI

	tr := &Trajectory{Query: q.Text, Scope: scope.URI, Mode: q.Mode}

	var results []Result
	switch q.Mode {
	case ModeGlob:
		results, err = e.glob(q)
	case ModeGrep:
		results, err = e.grep(ctx, q)
	case ModeFlat:
		tr.Conditions = []string{q.Text}
		results, err = e.flat(ctx, q, tr)
	case ModeRecursive:
		results, err = e.recursive(ctx, q, scope, gen, tr)
	default:
		return nil, errs.Invalid("mode", string(q.Mode), "unknown retrieval mode")
	}
	if err != nil {
		return nil, err
	}

	rank(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	e.decorate(ctx, results)
	tr.Results = results

	if len(results) > 0 {
		uris := make([]string, len(results))
		for i, r := range results {
			uris[i] = r.URI
		}
		if err := e.tree.MarkReferenced(ctx, e.now().UTC(), uris...); err != nil {
			e.logger.Warn("recording references failed", "err", err)
		}
	}

	e.logger.Debug("retrieval done",
		"query", q.Text, "mode", q.Mode, "scope", scope.URI,
		"steps", len(tr.Steps), "results", len(results), "low_confidence", tr.LowConfidence,
	)
	return tr, nil
}

// rank sorts by score descending, then shallower depth, then URI.
func rank(results []Result) {
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(uri.Depth(a.URI), uri.Depth(b.URI)); c != 0 {
			return c
		}
		return strings.Compare(a.URI, b.URI)
	})
}

// decorate attaches kinds and abstracts.
func (e *Engine) decorate(ctx context.Context, results []Result) {
	for i := range results {
		n, err := e.tree.Resolve(results[i].URI)
		if err != nil {
			continue
		}
		results[i].Kind = n.Kind
		if n.Abstract.Status.Usable() {
			if text, err := e.tree.ReadTier(ctx, n, tree.L0); err == nil {
				results[i].Abstract = text
			}
		}
	}
}

// scored is the best vector match of one node.
type scored struct {
	node  *tree.Node
	score float32
	level string
}

// scoreNodes compares emb against the current tier vectors of nodes and,
// for directories, their aggregates. Each node is scored by its own query
// so a node with many chunks cannot crowd out its siblings.
func (e *Engine) scoreNodes(ctx context.Context, emb []float32, nodes []*tree.Node) ([]scored, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	out := make([]scored, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreParallelism)
	for i, n := range nodes {
		g.Go(func() error {
			s, err := e.scoreNode(gctx, emb, n)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.node.URI, b.node.URI)
	})
	return out, nil
}

const (
	scoreParallelism = 8
	nodeTopK         = 8
	nodeMaxTopK      = 1024
)

// scoreNode returns the best current match of one node. Stale vectors can
// rank first, so the query widens until a current one appears or the node
// has no more vectors.
func (e *Engine) scoreNode(ctx context.Context, emb []float32, n *tree.Node) (scored, error) {
	best := scored{node: n}
	found := false
	consider := func(score float32, level string) {
		if n.Demoted {
			score *= demotedFactor
		}
		if !found || score > best.score {
			best.score, best.level, found = score, level, true
		}
	}

	filter := &vector.Filter{
		URIs:   []string{n.URI},
		Levels: []string{vector.LevelL1, vector.LevelL0, vector.LevelL2},
	}
	for k := nodeTopK; ; k *= 2 {
		matches, err := e.index.Vectors().Query(ctx, emb, k, filter)
		if err != nil {
			return best, errs.Provider("vector", "query", err)
		}
		for _, m := range matches {
			if m.URI == n.URI && index.Current(n, m.Document) {
				consider(m.Score, m.Level)
				break
			}
		}
		if found || len(matches) < k || k >= nodeMaxTopK {
			break
		}
	}

	if n.IsDir() {
		agg, err := e.index.Aggregate(ctx, n.URI)
		if err != nil {
			e.logger.Warn("directory aggregate unavailable", "uri", n.URI, "err", err)
		} else if agg != nil {
			consider(vector.Cosine(emb, agg), vector.LevelAggregate)
		}
	}
	return best, nil
}

// recursive runs directory-recursive retrieval for every condition.
func (e *Engine) recursive(ctx context.Context, q Query, scope *tree.Node, gen ConditionGenerator, tr *Trajectory) ([]Result, error) {
	conds, err := gen.Conditions(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	if len(conds) == 0 {
		conds = []string{q.Text}
	}
	tr.Conditions = conds

	embs := make([][]float32, len(conds))
	for i, c := range conds {
		emb, err := e.index.Embedder().Embed(ctx, c)
		if err != nil {
			return e.degrade(ctx, q, tr, err)
		}
		embs[i] = emb
	}

	type branch struct {
		steps   []Step
		results map[string]Result
	}
	branches := make([]branch, len(conds))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range conds {
		g.Go(func() error {
			x := &explorer{engine: e, q: q, cond: c, emb: embs[i], results: map[string]Result{}}
			if err := x.start(gctx, scope); err != nil {
				return err
			}
			branches[i] = branch{steps: x.steps, results: x.results}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[string]Result{}
	for _, b := range branches {
		tr.Steps = append(tr.Steps, b.steps...)
		for u, r := range b.results {
			if cur, ok := merged[u]; !ok || r.Score > cur.Score {
				merged[u] = r
			}
		}
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	return out, nil
}

// explorer drills down for one condition.
type explorer struct {
	engine  *Engine
	q       Query
	cond    string
	emb     []float32
	steps   []Step
	results map[string]Result
}

func (x *explorer) step(u string, depth int, score float32, d Decision) {
	x.steps = append(x.steps, Step{URI: u, Depth: depth, Score: score, Decision: d, Condition: x.cond})
}

func (x *explorer) start(ctx context.Context, scope *tree.Node) error {
	if !scope.IsDir() {
		scores, err := x.engine.scoreNodes(ctx, x.emb, []*tree.Node{scope})
		if err != nil {
			return err
		}
		x.leaf(scores[0], 0, nil)
		return nil
	}

	x.step(scope.URI, 0, 1, DecisionExpand)
	return x.visit(ctx, scope.URI, 0, []string{scope.URI})
}

func (x *explorer) leaf(s scored, depth int, path []string) {
	if s.score < *x.q.Threshold {
		x.step(s.node.URI, depth, s.score, DecisionReject)
		return
	}
	x.step(s.node.URI, depth, s.score, DecisionStop)
	if cur, ok := x.results[s.node.URI]; !ok || s.score > cur.Score {
		x.results[s.node.URI] = Result{
			URI:       s.node.URI,
			Score:     s.score,
			Level:     s.level,
			Path:      slices.Clone(path),
			Condition: x.cond,
		}
	}
}

// visit scores the children of dir (at depth) and expands the best
// directories among them.
func (x *explorer) visit(ctx context.Context, dir string, depth int, path []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	children, err := x.engine.tree.List(dir, false)
	if err != nil {
		return err
	}
	scores, err := x.engine.scoreNodes(ctx, x.emb, children)
	if err != nil {
		return err
	}

	var expand []scored
	for _, s := range scores {
		if !s.node.IsDir() {
			x.leaf(s, depth+1, path)
			continue
		}

		switch {
		case s.score < *x.q.Threshold:
			x.step(s.node.URI, depth+1, s.score, DecisionReject)
		case len(s.node.Children) == 0 || depth+1 >= x.engine.cfg.MaxDepth || len(expand) >= x.engine.cfg.DirTopK:
			x.step(s.node.URI, depth+1, s.score, DecisionStop)
		default:
			x.step(s.node.URI, depth+1, s.score, DecisionExpand)
			expand = append(expand, s)
		}
	}

	for _, s := range expand {
		if err := x.visit(ctx, s.node.URI, depth+1, append(slices.Clip(path), s.node.URI)); err != nil {
			return err
		}
	}
	return nil
}

// flat ranks every node under the scope by its best tier vector.
func (e *Engine) flat(ctx context.Context, q Query, tr *Trajectory) ([]Result, error) {
	emb, err := e.index.Embedder().Embed(ctx, q.Text)
	if err != nil {
		return e.degrade(ctx, q, tr, err)
	}

	matches, err := e.index.Vectors().Query(ctx, emb, 8*q.Limit+32, &vector.Filter{
		Scope:  q.Scope,
		Levels: []string{vector.LevelL1, vector.LevelL0, vector.LevelL2},
	})
	if err != nil {
		return nil, errs.Provider("vector", "query", err)
	}

	best := map[string]Result{}
	for _, m := range matches {
		n, err := e.tree.Resolve(m.URI)
		if err != nil || n.IsDir() || !index.Current(n, m.Document) {
			continue
		}
		score := m.Score
		if n.Demoted {
			score *= demotedFactor
		}
		if score < *q.Threshold {
			continue
		}
		if cur, ok := best[n.URI]; !ok || score > cur.Score {
			best[n.URI] = Result{URI: n.URI, Score: score, Level: m.Level, Path: pathTo(n.URI, q.Scope)}
		}
	}

	out := make([]Result, 0, len(best))
	for _, r := range best {
		tr.Steps = append(tr.Steps, Step{URI: r.URI, Depth: uri.Depth(r.URI) - uri.Depth(q.Scope), Score: r.Score, Decision: DecisionStop})
		out = append(out, r)
	}
	slices.SortFunc(tr.Steps, func(a, b Step) int { return strings.Compare(a.URI, b.URI) })
	return out, nil
}

// pathTo lists the directories from scope down to the parent of u.
func pathTo(u, scope string) []string {
	var out []string
	for _, a := range uri.Ancestors(u) {
		if uri.Within(a, scope) {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) glob(q Query) ([]Result, error) {
	nodes, err := e.tree.Glob(q.Text, q.Scope)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Result{URI: n.URI, Score: 1, Path: pathTo(n.URI, q.Scope)})
	}
	return out, nil
}

func (e *Engine) grep(ctx context.Context, q Query) ([]Result, error) {
	matches, err := e.tree.Grep(ctx, q.Text, q.Scope, tree.GrepOptions{Regex: q.Regex, IgnoreCase: q.IgnoreCase})
	if err != nil {
		return nil, err
	}

	var out []Result
	seen := map[string]bool{}
	for _, m := range matches {
		if seen[m.URI] {
			continue
		}
		seen[m.URI] = true
		out = append(out, Result{URI: m.URI, Score: 1, Level: vector.LevelL2, Snippet: m.Text, Path: pathTo(m.URI, q.Scope)})
	}
	return out, nil
}

// degrade answers with lexical matching after an embedding failure.
func (e *Engine) degrade(ctx context.Context, q Query, tr *Trajectory, cause error) ([]Result, error) {
	if e.cfg.DisableLexicalFallback || ctx.Err() != nil {
		return nil, cause
	}
	e.logger.Warn("embedding failed, falling back to lexical matching", "query", q.Text, "err", cause)

	tr.LowConfidence = true
	results, err := e.lexical(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		tr.Steps = append(tr.Steps, Step{URI: r.URI, Depth: uri.Depth(r.URI) - uri.Depth(q.Scope), Score: r.Score, Decision: DecisionStop})
	}
	return results, nil
}

// lexical scores leaves by the share of query terms their detail content
// contains.
func (e *Engine) lexical(ctx context.Context, q Query) ([]Result, error) {
	terms := queryTerms(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	nodes, err := e.tree.Subtree(q.Scope)
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, n := range nodes {
		if n.IsDir() || !n.Detail.Status.Usable() {
			continue
		}
		text, err := e.tree.ReadTier(ctx, n, tree.L2)
		if err != nil {
			continue
		}
		lower := strings.ToLower(text)

		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, Result{
			URI:           n.URI,
			Score:         float32(hits) / float32(len(terms)),
			Level:         vector.LevelL2,
			Path:          pathTo(n.URI, q.Scope),
			Snippet:       snippet(text, terms),
			LowConfidence: true,
		})
	}
	return out, nil
}

func queryTerms(s string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// snippet returns the first line containing any term.
func snippet(text string, terms []string) string {
	for line := range strings.Lines(text) {
		lower := strings.ToLower(line)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}

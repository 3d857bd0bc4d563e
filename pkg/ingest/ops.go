package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/jobgraph"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// LeafRequest describes a leaf written directly, without parsing.
type LeafRequest struct {
	Parent     string
	Name       string
	Kind       tree.Kind
	Content    string
	Provenance tree.Provenance
	Labels     map[string]string
	ReadOnly   bool

	// Unique suffixes Name when a sibling already holds it.
	Unique bool
}

// WriteLeaf creates a leaf, creating missing parent directories with the
// same provenance, and queues its tier and embedding jobs.
func (p *Pipeline) WriteLeaf(ctx context.Context, req LeafRequest) (*tree.Node, error) {
	if req.Kind == "" {
		req.Kind = tree.KindDocument
	}
	if req.Kind == tree.KindDirectory {
		return nil, errs.Invalid("kind", string(req.Kind), "leaves cannot be directories")
	}
	if _, err := p.tree.EnsureDir(ctx, req.Parent, req.Provenance); err != nil {
		return nil, err
	}

	create := tree.CreateRequest{
		Parent:     req.Parent,
		Name:       req.Name,
		Kind:       req.Kind,
		Provenance: req.Provenance,
		Content:    []byte(req.Content),
		Labels:     req.Labels,
		ReadOnly:   req.ReadOnly,
	}

	var (
		n   *tree.Node
		err error
	)
	if req.Unique {
		n, err = p.createUnique(ctx, create)
	} else {
		n, err = p.tree.Create(ctx, create)
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.schedule(n.URI, nil); err != nil {
		return n, err
	}
	return n, nil
}

// UpdateContent replaces a leaf's content and queues regeneration.
func (p *Pipeline) UpdateContent(ctx context.Context, u, content string) (*tree.Node, error) {
	var out *tree.Node
	err := tree.RetryOnConflict(ctx, conflictRetries, func() error {
		n, err := p.tree.Resolve(u)
		if err != nil {
			return err
		}
		out, err = p.tree.WriteContent(ctx, n.URI, n.Version, []byte(content))
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, err := p.schedule(out.URI, nil); err != nil {
		return out, err
	}
	return out, nil
}

// Remove deletes u and its descendants along with their vectors. It returns
// the removed URIs, deepest first.
func (p *Pipeline) Remove(ctx context.Context, u string) ([]string, error) {
	var (
		removed []string
		parent  string
	)
	err := tree.RetryOnConflict(ctx, conflictRetries, func() error {
		n, err := p.tree.Resolve(u)
		if err != nil {
			return err
		}
		parent = n.Parent
		removed, err = p.tree.Delete(ctx, n.URI, n.Version)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := p.index.Remove(ctx, removed, parent); err != nil {
		return removed, err
	}
	p.graph.ClearFailures(u)

	p.logger.Info("resource removed", "uri", u, "nodes", len(removed))
	return removed, nil
}

// Reprocess queues tier generation and indexing for u and its descendants
// again. Tiers whose input did not change are restored without provider
// calls.
func (p *Pipeline) Reprocess(ctx context.Context, u string) error {
	n, err := p.tree.Resolve(u)
	if err != nil {
		return err
	}

	p.graph.ClearFailures(n.URI)
	if _, err := p.scheduleSubtree(n.URI); err != nil {
		return fmt.Errorf("reprocessing %s: %w", n.URI, err)
	}
	return nil
}

// WaitProcessed blocks until every queued job within scope has finished,
// the timeout elapses (errs.ErrTimeout) or ctx ends. A zero timeout waits
// for ctx alone.
func (p *Pipeline) WaitProcessed(ctx context.Context, scope string, timeout time.Duration) error {
	if scope == "" {
		scope = uri.Root
	}
	scope, err := uri.Parse(scope)
	if err != nil {
		return err
	}
	if !p.tree.Exists(scope) {
		return errs.NotFoundError{URI: scope}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, errs.ErrTimeout)
		defer cancel()
	}

	err = p.graph.Wait(ctx, scope)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(context.Cause(ctx), errs.ErrTimeout) {
		return fmt.Errorf("%w: %d jobs pending under %s", errs.ErrTimeout, p.graph.Pending(scope), scope)
	}
	return err
}

// Status reports processing state for a node and its subtree.
type Status struct {
	URI      string             `json:"uri"`
	Abstract tree.TierState     `json:"abstract"`
	Overview tree.TierState     `json:"overview"`
	Detail   tree.TierState     `json:"detail"`
	Pending  int                `json:"pending"`
	Jobs     []jobgraph.Info    `json:"jobs,omitempty"`
	Failures []jobgraph.Failure `json:"failures,omitempty"`

	// FailedNodes lists nodes in the subtree with a failed tier.
	FailedNodes []string `json:"failed_nodes,omitempty"`
}

// Status returns the processing status of u.
func (p *Pipeline) Status(u string) (*Status, error) {
	n, err := p.tree.Resolve(u)
	if err != nil {
		return nil, err
	}

	st := &Status{
		URI:      n.URI,
		Abstract: n.Abstract,
		Overview: n.Overview,
		Detail:   n.Detail,
		Pending:  p.graph.Pending(n.URI),
		Jobs:     p.graph.Jobs(n.URI),
		Failures: p.graph.Failures(n.URI),
	}

	nodes, err := p.tree.Subtree(n.URI)
	if err != nil {
		return nil, err
	}
	for _, sn := range nodes {
		if sn.Abstract.Status == tree.StatusFailed || sn.Overview.Status == tree.StatusFailed {
			st.FailedNodes = append(st.FailedNodes, sn.URI)
		}
	}
	return st, nil
}

// Package pack exports a node subtree as a zip archive and imports it back
// under another parent.
//
// A pack has a single top-level directory named after the exported node.
// Leaves are stored as files holding their detail content, directories as
// directory entries, and <root>/_._meta.json records node kinds, labels and
// provenance. Path segments starting with "." are stored with a "_._"
// prefix so that extraction tools do not hide them.
package pack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// MetaName is the manifest member inside the pack root.
const MetaName = "_._meta.json"

// Extension is the conventional file suffix of a pack.
const Extension = ".strpack"

const hiddenPrefix = "_._"

// Meta is the pack manifest.
type Meta struct {
	URI        string              `json:"uri"`
	ExportedAt time.Time           `json:"exported_at"`
	Nodes      map[string]NodeMeta `json:"nodes"`
}

// NodeMeta describes one node, keyed by its path relative to the root.
type NodeMeta struct {
	Kind     tree.Kind         `json:"kind"`
	Labels   map[string]string `json:"labels,omitempty"`
	Source   string            `json:"source,omitempty"`
	Origin   tree.Origin       `json:"origin,omitempty"`
	ReadOnly bool              `json:"read_only,omitempty"`
}

// Reprocessor regenerates tiers and vectors of an imported subtree and
// removes subtrees replaced by a forced import.
type Reprocessor interface {
	Reprocess(ctx context.Context, u string) error
	Remove(ctx context.Context, u string) ([]string, error)
}

// Packer moves subtrees in and out of packs.
type Packer struct {
	tree   *tree.Tree
	proc   Reprocessor
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Packer.
func New(t *tree.Tree, proc Reprocessor, log *slog.Logger) *Packer {
	return &Packer{tree: t, proc: proc, logger: logger.Component(log, "pack"), now: time.Now}
}

func toZip(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ".") {
			segs[i] = hiddenPrefix + s[1:]
		}
	}
	return strings.Join(segs, "/")
}

func fromZip(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, hiddenPrefix) {
			segs[i] = "." + s[len(hiddenPrefix):]
		}
	}
	return strings.Join(segs, "/")
}

// Export writes the subtree rooted at directory u to w and returns the
// number of nodes written, the root included.
func (p *Packer) Export(ctx context.Context, u string, w io.Writer) (int, error) {
	root, err := p.tree.Resolve(u)
	if err != nil {
		return 0, err
	}
	if !root.IsDir() {
		return 0, errs.Invalid("uri", u, "only directories can be exported")
	}
	if root.URI == uri.Root {
		return 0, errs.Invalid("uri", u, "the tree root cannot be exported")
	}

	nodes, err := p.tree.Subtree(root.URI)
	if err != nil {
		return 0, err
	}

	base := toZip(uri.Base(root.URI))
	meta := Meta{URI: root.URI, ExportedAt: p.now().UTC(), Nodes: make(map[string]NodeMeta, len(nodes))}

	zw := zip.NewWriter(w)
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		rel := uri.Relative(n.URI, root.URI)
		meta.Nodes[rel] = NodeMeta{
			Kind:     n.Kind,
			Labels:   n.Labels,
			Source:   n.Provenance.Source,
			Origin:   n.Provenance.Origin,
			ReadOnly: n.ReadOnly,
		}

		name := base
		if rel != "" {
			name = base + "/" + toZip(rel)
		}
		if n.IsDir() {
			if _, err := zw.Create(name + "/"); err != nil {
				return 0, fmt.Errorf("writing %s: %w", name, err)
			}
			continue
		}

		content, err := p.tree.Content(ctx, n.URI)
		if err != nil {
			return 0, err
		}
		fw, err := zw.Create(name)
		if err != nil {
			return 0, fmt.Errorf("writing %s: %w", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			return 0, fmt.Errorf("writing %s: %w", name, err)
		}
	}

	mw, err := zw.Create(base + "/" + MetaName)
	if err != nil {
		return 0, fmt.Errorf("writing manifest: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return 0, fmt.Errorf("writing manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finishing pack: %w", err)
	}

	p.logger.Info("subtree exported", "uri", root.URI, "nodes", len(nodes))
	return len(nodes), nil
}

var drive = regexp.MustCompile(`^[A-Za-z]:`)

// checkMember rejects member paths that are absolute, escape the pack root
// or sit outside base.
func checkMember(name, base string) error {
	bad := name == "" ||
		strings.Contains(name, `\`) ||
		strings.HasPrefix(name, "/") ||
		drive.MatchString(name)
	if !bad {
		for _, seg := range strings.Split(strings.TrimSuffix(name, "/"), "/") {
			if seg == ".." || seg == "." {
				bad = true
				break
			}
		}
	}
	if bad {
		return errs.Invalid("member", name, "unsafe path in pack")
	}
	if first, _, _ := strings.Cut(name, "/"); first != base {
		return errs.Invalid("member", name, "outside the pack root "+base)
	}
	return nil
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Force replaces an existing subtree at the target.
	Force bool
}

// Import restores the pack in r under parent and returns the new root URI.
// Parent directories are created as needed. The imported subtree is queued
// for tier and vector generation.
func (p *Packer) Import(ctx context.Context, r io.ReaderAt, size int64, parent string, opts ImportOptions) (string, error) {
	parent, err := uri.Parse(parent)
	if err != nil {
		return "", err
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", errs.Invalid("pack", "", err.Error())
	}
	if len(zr.File) == 0 {
		return "", errs.Invalid("pack", "", "empty pack")
	}

	base, _, _ := strings.Cut(zr.File[0].Name, "/")
	for _, f := range zr.File {
		if err := checkMember(f.Name, base); err != nil {
			return "", err
		}
	}

	rootName := fromZip(base)
	if err := uri.ValidSegment(rootName); err != nil {
		return "", err
	}
	root := uri.Join(parent, rootName)

	meta, err := readMeta(zr, base)
	if err != nil {
		return "", err
	}
	if meta.URI != "" && uri.Base(meta.URI) != rootName {
		p.logger.Warn("pack manifest names another root", "manifest_uri", meta.URI, "root", rootName)
	}

	if p.tree.Exists(root) {
		if !opts.Force {
			return "", errs.ConflictError{URI: root}
		}
		if _, err := p.proc.Remove(ctx, root); err != nil {
			return "", fmt.Errorf("replacing %s: %w", root, err)
		}
	}

	prov := tree.Provenance{Source: "pack:" + rootName, Origin: tree.OriginResource}
	if _, err := p.tree.EnsureDir(ctx, parent, prov); err != nil {
		return "", err
	}

	if err := p.restore(ctx, zr, base, root, meta); err != nil {
		return "", err
	}
	if err := p.proc.Reprocess(ctx, root); err != nil {
		return root, err
	}

	p.logger.Info("pack imported", "uri", root, "members", len(zr.File))
	return root, nil
}

func readMeta(zr *zip.Reader, base string) (*Meta, error) {
	meta := &Meta{Nodes: map[string]NodeMeta{}}

	f, err := zr.Open(base + "/" + MetaName)
	if err != nil {
		return meta, nil
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(meta); err != nil {
		return nil, errs.Invalid(MetaName, "", "invalid manifest: "+err.Error())
	}
	if meta.Nodes == nil {
		meta.Nodes = map[string]NodeMeta{}
	}
	return meta, nil
}

// restore creates the nodes of the pack under root, parents first.
func (p *Packer) restore(ctx context.Context, zr *zip.Reader, base, root string, meta *Meta) error {
	create := func(rel string, kind tree.Kind, content []byte) error {
		nm := meta.Nodes[rel]
		prov := tree.Provenance{Source: nm.Source, Origin: nm.Origin}
		if prov.Origin == "" {
			prov.Origin = tree.OriginResource
		}

		target := root
		if rel != "" {
			target = uri.Join(root, rel)
		}
		if p.tree.Exists(target) {
			return nil
		}

		parent, _ := uri.Parent(target)
		if _, err := p.tree.EnsureDir(ctx, parent, prov); err != nil {
			return err
		}
		if nm.Kind != "" && (nm.Kind == tree.KindDirectory) == (kind == tree.KindDirectory) {
			kind = nm.Kind
		}
		_, err := p.tree.Create(ctx, tree.CreateRequest{
			Parent:     parent,
			Name:       uri.Base(target),
			Kind:       kind,
			Provenance: prov,
			Content:    content,
			Labels:     nm.Labels,
			ReadOnly:   nm.ReadOnly,
		})
		return err
	}

	if err := create("", tree.KindDirectory, nil); err != nil {
		return err
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := strings.TrimPrefix(strings.TrimSuffix(f.Name, "/"), base)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" || rel == MetaName {
			continue
		}
		rel = fromZip(rel)
		for _, seg := range strings.Split(rel, "/") {
			if err := uri.ValidSegment(seg); err != nil {
				return err
			}
		}

		if strings.HasSuffix(f.Name, "/") {
			if err := create(rel, tree.KindDirectory, nil); err != nil {
				return err
			}
			continue
		}

		data, err := readMember(f)
		if err != nil {
			return err
		}
		if err := create(rel, tree.KindDocument, data); err != nil {
			return fmt.Errorf("importing %s: %w", path.Join(base, rel), err)
		}
	}
	return nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return data, nil
}

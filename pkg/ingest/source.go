package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/parser"
	"github.com/papercomputeco/strata/pkg/uri"
)

// Source is a resource to import. Exactly one of Path, URL and Data is set.
type Source struct {
	// Path is a local file or directory. Directories are mirrored
	// recursively, one subtree per file.
	Path string

	// URL is fetched over HTTP by the parse job.
	URL string

	// Data is raw content supplied by the caller.
	Data []byte

	// Name overrides the resource root's name.
	Name string

	// TypeHint selects a parser; detected from name and content when empty.
	TypeHint string

	// Target is the directory to import under. Defaults to
	// strata://resources.
	Target string
}

func (s Source) validate() error {
	set := 0
	for _, ok := range []bool{s.Path != "", s.URL != "", s.Data != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return errs.Invalid("source", s.Name, "exactly one of path, url or data is required")
	}
	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errs.Invalid("url", s.URL, "must be an absolute http or https URL")
		}
	}
	if s.Data != nil && s.Name == "" {
		return errs.Invalid("name", "", "inline data requires a name")
	}
	return nil
}

// origin describes where the source came from for provenance.
func (s Source) origin() string {
	switch {
	case s.Path != "":
		if abs, err := filepath.Abs(s.Path); err == nil {
			return abs
		}
		return s.Path
	case s.URL != "":
		return s.URL
	}
	return "inline:" + s.Name
}

// rootName is the slugified name of the resource root.
func (s Source) rootName() string {
	name := s.Name
	switch {
	case name != "":
	case s.Path != "":
		name = filepath.Base(filepath.Clean(s.Path))
	case s.URL != "":
		if u, err := url.Parse(s.URL); err == nil {
			name = path.Base(u.Path)
			if name == "/" || name == "." || name == "" {
				name = u.Host
			}
		}
	}
	return uri.Slug(name, "resource")
}

func (p *Pipeline) load(ctx context.Context, s Source) ([]byte, string, error) {
	switch {
	case s.Data != nil:
		return s.Data, hintFor(s.TypeHint, s.Name, s.Data), nil

	case s.Path != "":
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", s.Path, err)
		}
		return data, hintFor(s.TypeHint, s.Path, data), nil

	default:
		return p.fetch(ctx, s)
	}
}

func hintFor(hint, name string, data []byte) string {
	if hint != "" {
		return hint
	}
	return parser.Detect(name, data)
}

// fetch downloads a URL. Network failures and server errors are provider
// errors so the job graph retries them.
func (p *Pipeline) fetch(ctx context.Context, s Source) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, "", errs.Invalid("url", s.URL, err.Error())
	}
	req.Header.Set("User-Agent", "strata")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, "", errs.Provider("http", "fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", errs.Provider("http", "fetch", fmt.Errorf("%s returned %s", s.URL, resp.Status))
	case resp.StatusCode >= 400:
		return nil, "", errs.Invalid("url", s.URL, "server returned "+resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxFetchBytes+1))
	if err != nil {
		return nil, "", errs.Provider("http", "read", err)
	}
	if int64(len(data)) > p.cfg.MaxFetchBytes {
		return nil, "", errs.Invalid("url", s.URL, "response exceeds the fetch size limit")
	}

	hint := s.TypeHint
	if hint == "" {
		hint = parser.FromContentType(resp.Header.Get("Content-Type"))
	}
	if hint == "" {
		u, _ := url.Parse(s.URL)
		hint = parser.Detect(u.Path, data)
	}
	return data, hint, nil
}

// skipEntry reports whether a folder walk ignores name.
func skipEntry(name string) bool {
	return strings.HasPrefix(name, ".")
}

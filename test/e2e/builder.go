package e2e

import (
	"context"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/curator-sh/curator/pkg/publisher"
)

// StubBuilder replaces the site generator subprocess. It turns every staged
// markdown file under <workDir>/content into a pretty-URL page under
// <workDir>/public and writes an index linking them, which is exactly the
// shape output validation expects.
type StubBuilder struct {
	mu     sync.Mutex
	builds int
	err    error
}

// NewStubBuilder creates a builder that succeeds until FailWith is called.
func NewStubBuilder() *StubBuilder {
	return &StubBuilder{}
}

// FailWith makes subsequent builds fail with err. Pass nil to heal.
func (b *StubBuilder) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Builds returns how many times Build ran.
func (b *StubBuilder) Builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

// Build implements publisher.Builder.
func (b *StubBuilder) Build(_ context.Context, workDir string) (*publisher.BuildOutput, error) {
	start := time.Now()

	b.mu.Lock()
	b.builds++
	failErr := b.err
	b.mu.Unlock()
	if failErr != nil {
		return &publisher.BuildOutput{Stderr: failErr.Error(), Duration: time.Since(start)}, failErr
	}

	contentDir := filepath.Join(workDir, "content")
	publicDir := filepath.Join(workDir, "public")
	if err := os.MkdirAll(publicDir, 0o755); err != nil {
		return nil, err
	}

	var hrefs []string
	err := filepath.WalkDir(contentDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(contentDir, path)
		if err != nil {
			return err
		}
		href := "/" + strings.TrimSuffix(filepath.ToSlash(rel), ".md") + "/"
		pageDir := filepath.Join(publicDir, filepath.FromSlash(strings.Trim(href, "/")))
		if err := os.MkdirAll(pageDir, 0o755); err != nil {
			return err
		}
		markup := fmt.Sprintf(
			"<!doctype html>\n<html><body>\n<a href=\"/\">Curated</a>\n<article><pre>%s</pre></article>\n</body></html>\n",
			html.EscapeString(string(raw)))
		if err := os.WriteFile(filepath.Join(pageDir, "index.html"), []byte(markup), 0o644); err != nil {
			return err
		}
		hrefs = append(hrefs, href)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("stub build: %w", err)
	}
	sort.Strings(hrefs)

	var index strings.Builder
	index.WriteString("<!doctype html>\n<html><body>\n<h1>Curated</h1>\n<ul>\n")
	for _, href := range hrefs {
		fmt.Fprintf(&index, "<li><a href=\"%s\">%s</a></li>\n", href, html.EscapeString(strings.Trim(href, "/")))
	}
	index.WriteString("</ul>\n</body></html>\n")
	if err := os.WriteFile(filepath.Join(publicDir, "index.html"), []byte(index.String()), 0o644); err != nil {
		return nil, err
	}

	return &publisher.BuildOutput{
		Stdout:   fmt.Sprintf("stub generator: %d pages", len(hrefs)),
		Duration: time.Since(start),
	}, nil
}

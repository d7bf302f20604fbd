package publisher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSiteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestValidateOutputCountsTree(t *testing.T) {
	dir := t.TempDir()
	writeSiteFile(t, dir, "index.html", "<html>home</html>")
	writeSiteFile(t, dir, "tech/2026/post/index.html", "<html>page</html>")
	writeSiteFile(t, dir, "css/site.css", "body {}")

	stats, err := validateOutput(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, int64(17+17+7), stats.TotalBytes)
}

func TestCheckInternalLinksResolvesPrettyURLs(t *testing.T) {
	dir := t.TempDir()
	writeSiteFile(t, dir, "index.html",
		`<a href="/tech/2026/post/">post</a> <a href="/about.html">about</a> <a href="/">home</a>`)
	writeSiteFile(t, dir, "tech/2026/post/index.html", "page")
	writeSiteFile(t, dir, "about.html", "about")

	assert.Empty(t, checkInternalLinks(dir))
}

func TestCheckInternalLinksStripsFragmentsAndQueries(t *testing.T) {
	dir := t.TempDir()
	writeSiteFile(t, dir, "index.html",
		`<link href="/css/site.css?v=2"> <a href="/docs#intro">docs</a>`)
	writeSiteFile(t, dir, "css/site.css", "body {}")
	writeSiteFile(t, dir, "docs/index.html", "docs")

	assert.Empty(t, checkInternalLinks(dir))
}

func TestCheckInternalLinksIgnoresExternal(t *testing.T) {
	dir := t.TempDir()
	writeSiteFile(t, dir, "index.html",
		`<a href="https://elsewhere.example.com/missing">ext</a> <a href="mailto:x@example.com">mail</a>`)

	assert.Empty(t, checkInternalLinks(dir))
}

func TestCheckInternalLinksReportsMissingTargets(t *testing.T) {
	dir := t.TempDir()
	writeSiteFile(t, dir, "index.html", `<a href="/ghost/">gone</a> <a href="/style.css">css</a>`)

	broken := checkInternalLinks(dir)
	assert.ElementsMatch(t, []string{"/ghost/", "/style.css"}, broken)
}

func TestCheckInternalLinksCapsReport(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<a href="/missing-%d">x</a>`, i)
	}
	writeSiteFile(t, dir, "index.html", b.String())

	assert.Len(t, checkInternalLinks(dir), 20)
}

func TestCheckInternalLinksSkipsNonHTML(t *testing.T) {
	dir := t.TempDir()
	writeSiteFile(t, dir, "index.html", "no links")
	writeSiteFile(t, dir, "feed.xml", `<a href="/never-checked">x</a>`)

	assert.Empty(t, checkInternalLinks(dir))
}

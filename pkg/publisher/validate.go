package publisher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// siteStats summarizes a built output tree.
type siteStats struct {
	Files      int
	TotalBytes int64
}

// validateOutput runs the pre-deployment checks, all before anything
// destructive touches the live container: index page present, total size
// under the cap, and a best-effort internal link scan.
func validateOutput(outputDir string, maxMB int) (*siteStats, error) {
	if _, err := os.Stat(filepath.Join(outputDir, "index.html")); err != nil {
		return nil, fmt.Errorf("output missing index.html: %w", err)
	}

	stats := &siteStats{}
	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.Files++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning output: %w", err)
	}

	if maxMB > 0 && stats.TotalBytes > int64(maxMB)<<20 {
		return nil, fmt.Errorf("output size %d MB exceeds cap %d MB, refusing to deploy",
			stats.TotalBytes>>20, maxMB)
	}

	if broken := checkInternalLinks(outputDir); len(broken) > 0 {
		return nil, fmt.Errorf("broken internal links: %s", strings.Join(broken, ", "))
	}
	return stats, nil
}

var hrefPattern = regexp.MustCompile(`href="(/[^"#?]*)`)

// checkInternalLinks scans html files for root-relative hrefs whose targets
// do not exist in the output tree. Best effort: parse failures and external
// links are ignored, and at most 20 broken links are reported.
func checkInternalLinks(outputDir string) []string {
	var broken []string
	_ = filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for _, match := range hrefPattern.FindAllStringSubmatch(string(data), -1) {
			link := match[1]
			if link == "/" || !linkMissing(outputDir, link) {
				continue
			}
			broken = append(broken, link)
			if len(broken) >= 20 {
				return filepath.SkipAll
			}
		}
		return nil
	})
	return broken
}

func linkMissing(outputDir, link string) bool {
	target := filepath.Join(outputDir, filepath.FromSlash(strings.TrimPrefix(link, "/")))
	if _, err := os.Stat(target); err == nil {
		return false
	}
	// Pretty URLs resolve to a directory index.
	if _, err := os.Stat(filepath.Join(target, "index.html")); err == nil {
		return false
	}
	return true
}

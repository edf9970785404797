package loader

import (
	"bytes"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
)

// parseHTML keeps the readable article text of an exported manuscript page
// and drops navigation and boilerplate.
func parseHTML(raw []byte, path string) (string, error) {
	base, err := url.Parse("file://" + filepath.ToSlash(path))
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(bytes.NewReader(raw), base)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}
	var sb strings.Builder
	if err := article.RenderText(&sb); err != nil {
		return "", fmt.Errorf("render article text: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

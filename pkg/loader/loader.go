// Package loader reads manuscript files (plain text, markdown, .docx and
// HTML) into documents ready for indexing.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatDocx     Format = "docx"
	FormatHTML     Format = "html"
)

var formats = map[string]Format{
	".txt":      FormatText,
	".text":     FormatText,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".docx":     FormatDocx,
	".html":     FormatHTML,
	".htm":      FormatHTML,
}

// ErrUnsupported is returned for files whose extension has no parser.
var ErrUnsupported = errors.New("unsupported manuscript format")

// FormatOf returns the format of path by extension.
func FormatOf(path string) (Format, bool) {
	f, ok := formats[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// Loader parses manuscript files. Parsed documents are cached by path and
// modification time; concurrent loads of one file share a single parse.
type Loader struct {
	cache   map[string]common.Document
	cacheMu sync.RWMutex
	group   singleflight.Group
}

func New() *Loader {
	return &Loader{cache: make(map[string]common.Document)}
}

// Load reads one file. The document ID is docID, or the file name when
// docID is empty.
func (l *Loader) Load(ctx context.Context, path string, docID string) (common.Document, error) {
	format, ok := FormatOf(path)
	if !ok {
		return common.Document{}, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return common.Document{}, err
	}
	if docID == "" {
		docID = filepath.ToSlash(filepath.Base(path))
	}
	key := fmt.Sprintf("%s\x00%s\x00%d", docID, path, info.ModTime().UnixNano())

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		doc, err := parse(format, raw, path)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		doc.DocID = docID
		doc.Metadata["source_path"] = path
		doc.Metadata["format"] = string(format)
		if _, ok := doc.Metadata["title"]; !ok {
			doc.Metadata["title"] = titleFromPath(path)
		}

		l.cacheMu.Lock()
		l.cache[key] = doc
		l.cacheMu.Unlock()
		return doc, nil
	})
	if err != nil {
		return common.Document{}, err
	}
	return result.(common.Document), nil
}

// LoadFolder loads every supported file under root, in path order. Document
// IDs are slash-separated paths relative to root. Files that fail to parse
// are logged and returned in skipped.
func (l *Loader) LoadFolder(ctx context.Context, root string) (docs []common.Document, skipped []string, err error) {
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := FormatOf(path); ok && !strings.HasPrefix(d.Name(), ".") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	slices.Sort(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return docs, skipped, err
		}
		doc, err := l.Load(ctx, path, DocID(root, path))
		if err != nil {
			logger.Warn("[Loader] Skipping file", "path", path, "err", err)
			skipped = append(skipped, path)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped, nil
}

// DocID derives a stable document ID from path relative to root.
func DocID(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Base(path))
	}
	return filepath.ToSlash(rel)
}

func titleFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.Join(strings.FieldsFunc(base, func(r rune) bool { return r == '_' || r == '-' }), " ")
}

func parse(format Format, raw []byte, path string) (common.Document, error) {
	doc := common.Document{Metadata: map[string]any{}}
	switch format {
	case FormatText:
		doc.Text = normalizeNewlines(string(raw))
	case FormatMarkdown:
		text, meta := splitFrontMatter(normalizeNewlines(string(raw)))
		for k, v := range meta {
			doc.Metadata[k] = v
		}
		if _, ok := doc.Metadata["title"]; !ok {
			if h := firstHeading(text); h != "" {
				doc.Metadata["title"] = h
			}
		}
		doc.Text = text
	case FormatDocx:
		text, err := parseDocx(raw)
		if err != nil {
			return doc, err
		}
		doc.Text = text
	case FormatHTML:
		text, err := parseHTML(raw, path)
		if err != nil {
			return doc, err
		}
		doc.Text = text
	}
	return doc, nil
}

func normalizeNewlines(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

// splitFrontMatter removes a leading "---" block of "key: value" lines.
func splitFrontMatter(text string) (string, map[string]string) {
	if !strings.HasPrefix(text, "---\n") {
		return text, nil
	}
	end := strings.Index(text[4:], "\n---")
	if end < 0 {
		return text, nil
	}
	block := text[4 : 4+end]
	rest := strings.TrimLeft(text[4+end+4:], "\n")

	meta := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k != "" && v != "" {
			meta[k] = v
		}
	}
	return rest, meta
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" {
			return ""
		}
	}
	return ""
}

package cli

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/loader"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

// settle is how long a file must stay quiet before it is re-indexed.
// Editors often save through several writes and renames.
const settle = 500 * time.Millisecond

type watchRoot struct {
	path  string
	isDir bool
}

// watchPaths re-indexes changed manuscript files until ctx is done.
// Removed files keep their indexed content.
func watchPaths(ctx context.Context, l *loader.Loader, idx *indexer.Indexer, paths []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	var roots []watchRoot
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		roots = append(roots, watchRoot{path: abs, isDir: info.IsDir()})
		if !info.IsDir() {
			// Watch the parent so atomic saves (write temp, rename) are seen.
			if err := watcher.Add(filepath.Dir(abs)); err != nil {
				return err
			}
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			if path != abs && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		})
		if err != nil {
			return err
		}
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	reindex := func(path string) {
		mu.Lock()
		delete(pending, path)
		mu.Unlock()

		docID, ok := watchedDocID(roots, path)
		if !ok {
			return
		}
		doc, err := l.Load(ctx, path, docID)
		if err != nil {
			logger.Warn("[Watch] Failed to load file", "path", path, "err", err)
			return
		}
		res, err := idx.IndexDocument(ctx, doc)
		if err != nil {
			logger.Error("[Watch] Failed to re-index", "doc_id", docID, "err", err)
			return
		}
		if err := idx.Persist(ctx); err != nil {
			logger.Error("[Watch] Failed to save snapshot", "err", err)
		}
		logger.Info("[Watch] Re-indexed", "doc_id", docID, "state", res.State, "chunks", res.ChunksIndexed)
	}

	logger.Info("[Watch] Watching for changes", "paths", paths)
	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[Watch] Watcher error", "err", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
					_ = watcher.Add(event.Name)
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if _, ok := loader.FormatOf(event.Name); !ok {
				continue
			}
			path := event.Name
			mu.Lock()
			if t, ok := pending[path]; ok {
				t.Reset(settle)
			} else {
				pending[path] = time.AfterFunc(settle, func() { reindex(path) })
			}
			mu.Unlock()
		}
	}
}

// watchedDocID maps a changed file to the document ID it was indexed
// under, or false when it is outside every watched root.
func watchedDocID(roots []watchRoot, path string) (string, bool) {
	for _, r := range roots {
		if !r.isDir {
			if path == r.path {
				return loader.DocID(filepath.Dir(r.path), path), true
			}
			continue
		}
		rel, err := filepath.Rel(r.path, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if strings.HasPrefix(filepath.Base(path), ".") {
			return "", false
		}
		return loader.DocID(r.path, path), true
	}
	return "", false
}

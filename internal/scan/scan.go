// Package scan turns files and directories on disk into ingestion items.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raphaelgruber/ingestor/internal/models"
)

// DefaultMaxFileSize is the largest file the backend accepts.
const DefaultMaxFileSize int64 = 50 << 20

// DefaultExtensions lists the document types the backend can process.
var DefaultExtensions = []string{
	"pdf", "doc", "docx", "txt", "md", "csv", "xls", "xlsx", "ppt", "pptx",
	"rtf", "eml", "msg", "html", "json", "xml", "png", "jpg", "jpeg", "tif", "tiff",
}

// SkipReason explains why a file was left out.
type SkipReason string

const (
	SkipHidden     SkipReason = "hidden"
	SkipExtension  SkipReason = "unsupported_extension"
	SkipEmpty      SkipReason = "empty"
	SkipTooLarge   SkipReason = "too_large"
	SkipDuplicate  SkipReason = "duplicate_path"
	SkipNotRegular SkipReason = "not_regular"
	SkipUnreadable SkipReason = "unreadable"
)

// Skipped is a file or directory that was not collected.
type Skipped struct {
	Path   string
	Reason SkipReason
	Detail string
}

// Options controls collection.
type Options struct {
	SourceTag   models.SourceTag
	Redaction   bool
	MaxFileSize int64    // <= 0 uses DefaultMaxFileSize
	Extensions  []string // Without dots; nil uses DefaultExtensions
}

// Result holds collected items in walk order plus everything skipped.
type Result struct {
	Items   []models.IngestionItem
	Skipped []Skipped
}

// Bytes returns the total size of the collected items.
func (r *Result) Bytes() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.ByteSize
	}
	return total
}

// Collect walks paths recursively. A directory contributes items named
// "<dir name>/<path inside dir>"; a file contributes its base name.
// A path that cannot be stat'ed is an error; problems below it are recorded as skips.
func Collect(paths []string, opts Options) (*Result, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	allowed := opts.Extensions
	if allowed == nil {
		allowed = DefaultExtensions
	}

	c := &collector{
		opts:    opts,
		allowed: allowed,
		seen:    make(map[string]string),
		result:  &Result{},
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		if info.IsDir() {
			if err := c.walk(abs); err != nil {
				return nil, err
			}
			continue
		}
		c.add(abs, filepath.Base(abs), info)
	}

	return c.result, nil
}

type collector struct {
	opts    Options
	allowed []string
	seen    map[string]string // relative path -> local path
	result  *Result
}

func (c *collector) walk(root string) error {
	name := filepath.Base(root)
	walkFn := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			c.skip(p, SkipUnreadable, err.Error())
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}
		if isHidden(d.Name()) {
			c.skip(p, SkipHidden, "")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := os.Stat(p) // follows symlinks
		if err != nil {
			c.skip(p, SkipUnreadable, err.Error())
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		c.add(p, name+"/"+filepath.ToSlash(rel), info)
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return fmt.Errorf("scan directory: %w", err)
	}
	return nil
}

func (c *collector) add(local, rel string, info fs.FileInfo) {
	switch {
	case !info.Mode().IsRegular():
		c.skip(local, SkipNotRegular, info.Mode().Type().String())
		return
	case isHidden(info.Name()):
		c.skip(local, SkipHidden, "")
		return
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(local)), ".")
	if !slices.Contains(c.allowed, ext) {
		c.skip(local, SkipExtension, ext)
		return
	}
	if info.Size() == 0 {
		c.skip(local, SkipEmpty, "")
		return
	}
	if info.Size() > c.opts.MaxFileSize {
		c.skip(local, SkipTooLarge, fmt.Sprintf("%d bytes exceeds %d", info.Size(), c.opts.MaxFileSize))
		return
	}
	if first, ok := c.seen[rel]; ok {
		c.skip(local, SkipDuplicate, "same name as "+first)
		return
	}

	c.seen[rel] = local
	c.result.Items = append(c.result.Items, models.IngestionItem{
		RelativePath:       rel,
		LocalPath:          local,
		ByteSize:           info.Size(),
		SourceTag:          c.opts.SourceTag,
		RedactionRequested: c.opts.Redaction,
	})
}

func (c *collector) skip(path string, reason SkipReason, detail string) {
	c.result.Skipped = append(c.result.Skipped, Skipped{Path: path, Reason: reason, Detail: detail})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

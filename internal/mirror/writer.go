package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/nao1215/bucketcrawl/internal/model"
)

const (
	filePrefix = "directory_"
	fileExt    = ".xml"
	tempSuffix = ".tmp"

	// escape introduces an encoded segment. It is also appended to the file
	// name of a prefix that does not end in a separator.
	escape = "%"
)

// Writer writes listing documents under a root directory.
// It is safe for concurrent use: distinct prefixes map to distinct paths
// and each write goes through its own temporary file.
type Writer struct {
	fs   afero.Fs
	root string
}

// NewWriter creates a Writer rooted at root on fsys.
func NewWriter(fsys afero.Fs, root string) *Writer {
	return &Writer{fs: fsys, root: root}
}

// Root returns the mirror root directory.
func (w *Writer) Root() string {
	return w.root
}

// Fs returns the filesystem the mirror lives on.
func (w *Writer) Fs() afero.Fs {
	return w.fs
}

// FileName returns the mirror file name for page 1 of prefix.
func FileName(prefix string) string {
	return PageFileName(prefix, 1)
}

// PageFileName returns the mirror file name for the given page of prefix.
func PageFileName(prefix string, page int) string {
	segs, terminated := segments(prefix)
	base := strings.Join(segs, "_")
	if !terminated {
		base += escape
	}
	if page > 1 {
		base = fmt.Sprintf("%s_page%d", base, page)
	}
	return filePrefix + base + fileExt
}

// Path returns the full path the given page of prefix is written to.
// A ".." segment is rejected with ErrUnsafePrefix.
func (w *Writer) Path(prefix string, page int) (string, error) {
	segs, _ := segments(prefix)
	elems := make([]string, 0, len(segs)+2)
	elems = append(elems, w.root)
	for _, s := range segs {
		if s == ".." || strings.ContainsRune(s, filepath.Separator) {
			return "", ErrUnsafePrefix
		}
		elems = append(elems, s)
	}
	elems = append(elems, PageFileName(prefix, page))
	return filepath.Join(elems...), nil
}

// segments splits prefix into encoded path segments and reports whether it
// ended in a separator. Exactly one trailing separator is dropped. Empty
// and "." segments are encoded so that path cleaning keeps them, which makes
// the mapping from prefix to path one-to-one.
func segments(prefix string) ([]string, bool) {
	if prefix == "" {
		return nil, true
	}
	terminated := strings.HasSuffix(prefix, "/")
	if terminated {
		prefix = prefix[:len(prefix)-1]
	}
	raw := strings.Split(prefix, "/")
	out := make([]string, len(raw))
	for i, s := range raw {
		out[i] = encodeSegment(s)
	}
	return out, terminated
}

func encodeSegment(s string) string {
	switch s {
	case "":
		return escape + "00"
	case ".":
		return escape + "2E"
	}
	return strings.ReplaceAll(s, escape, escape+"25")
}

// Write persists doc.Body verbatim and returns the path written.
// The containing directory is created as needed. Any failure is returned
// as a *WriteError.
func (w *Writer) Write(prefix string, doc *model.ListingDocument) (string, error) {
	page := 1
	if doc != nil && doc.Page > 1 {
		page = doc.Page
	}

	path, err := w.Path(prefix, page)
	if err != nil {
		return "", &WriteError{Prefix: prefix, Path: prefix, Err: err}
	}

	dir := filepath.Dir(path)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return "", &WriteError{Prefix: prefix, Path: dir, Err: err}
	}

	var body []byte
	if doc != nil {
		body = doc.Body
	}
	if err := writeAtomic(w.fs, path, body); err != nil {
		return "", &WriteError{Prefix: prefix, Path: path, Err: err}
	}

	return path, nil
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(fsys afero.Fs, path string, data []byte) error {
	tmp, err := afero.TempFile(fsys, filepath.Dir(path), filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	if err := fsys.Chmod(tmpName, 0o644); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	return nil
}

// Documents returns every mirror document under the root, sorted.
// A missing root yields an empty list.
func (w *Writer) Documents(ctx context.Context) ([]string, error) {
	return Documents(ctx, w.fs, w.root)
}

// Documents returns every *.xml file under root on fsys, sorted.
func Documents(ctx context.Context, fsys afero.Fs, root string) ([]string, error) {
	if _, err := fsys.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	paths := make([]string, 0)
	err := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, fileExt) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk mirror %s: %w", root, err)
	}

	sort.Strings(paths)
	return paths, nil
}

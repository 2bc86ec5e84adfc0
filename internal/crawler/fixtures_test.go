package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nao1215/bucketcrawl/internal/listing"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// listingXML renders a ListBucketResult document.
func listingXML(prefix string, children, keys []string, truncated bool, next string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>test-bucket</Name><Prefix>%s</Prefix>", prefix)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if next != "" {
		fmt.Fprintf(&b, "<NextMarker>%s</NextMarker>", next)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>1</Size></Contents>", k)
	}
	for _, c := range children {
		fmt.Fprintf(&b, "<CommonPrefixes><Prefix>%s</Prefix></CommonPrefixes>", c)
	}
	b.WriteString("</ListBucketResult>")
	return b.String()
}

// fakeTree serves listing documents from memory.
type fakeTree struct {
	mu    sync.Mutex
	pages map[string][]string
	fail  map[string]error
	calls map[string]int
	hook  func(prefix string)
}

func newFakeTree() *fakeTree {
	return &fakeTree{
		pages: make(map[string][]string),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

// node registers a single-page listing for prefix.
func (f *fakeTree) node(prefix string, children, keys []string) *fakeTree {
	f.pages[prefix] = []string{listingXML(prefix, children, keys, false, "")}
	return f
}

func (f *fakeTree) Fetch(_ context.Context, prefix string, cur listing.Cursor) (*model.ListingDocument, error) {
	f.mu.Lock()
	f.calls[prefix]++
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(prefix)
	}

	if err, ok := f.fail[prefix]; ok {
		return nil, &listing.FetchError{Prefix: prefix, URL: "mem://" + prefix, Attempts: 4, Err: err}
	}
	bodies, ok := f.pages[prefix]
	if !ok {
		return nil, &listing.FetchError{Prefix: prefix, URL: "mem://" + prefix, StatusCode: 404, Attempts: 4, Err: errors.New("no such prefix")}
	}

	page := cur.Page
	if page < 1 {
		page = 1
	}
	if page > len(bodies) {
		return nil, &listing.FetchError{Prefix: prefix, Attempts: 1, Err: errors.New("no such page")}
	}

	doc := model.NewListingDocument(prefix, "mem://"+prefix, []byte(bodies[page-1]))
	doc.Page = page
	return doc, nil
}

func (f *fakeTree) fetched(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prefix]
}

func (f *fakeTree) fetchedPrefixes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for p := range f.calls {
		out = append(out, p)
	}
	return out
}

// failingWriter fails every write.
type failingWriter struct{}

func (failingWriter) Write(prefix string, _ *model.ListingDocument) (string, error) {
	return "", errors.New("disk full")
}

// frontierLog collects frontiers passed to the recorder.
type frontierLog struct {
	mu     sync.Mutex
	levels map[int][]string
}

func newFrontierLog() *frontierLog {
	return &frontierLog{levels: make(map[int][]string)}
}

func (l *frontierLog) record(level int, frontier []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[level] = frontier
}

func (l *frontierLog) get(level int) ([]string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.levels[level]
	return f, ok
}

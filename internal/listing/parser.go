package listing

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/bucketcrawl/internal/model"
)

// Namespace is the XML namespace of S3 ListBucketResult documents.
const Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"

// Listing is the parsed form of one listing page.
type Listing struct {
	// Name is the bucket name, when the document carries one.
	Name string

	// Prefix is the prefix echoed by the server.
	Prefix string

	// CommonPrefixes are the immediate child prefixes, in document order.
	CommonPrefixes []string

	// Contents are the object keys directly under the prefix, in document order.
	Contents []model.KeyRecord

	// IsTruncated is set when the server has more entries for the prefix.
	IsTruncated bool

	// NextMarker resumes the listing after this page. It may be empty even
	// when IsTruncated is set.
	NextMarker string
}

// Keys returns the key strings of l.Contents.
func (l *Listing) Keys() []string {
	keys := make([]string, len(l.Contents))
	for i, c := range l.Contents {
		keys[i] = c.Key
	}
	return keys
}

type listBucketResult struct {
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	NextMarker     string         `xml:"NextMarker"`
	IsTruncated    bool           `xml:"IsTruncated"`
	CommonPrefixes []commonPrefix `xml:"CommonPrefixes"`
	Contents       []contents     `xml:"Contents"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type contents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
}

// Parse decodes a ListBucketResult document.
//
// The root element must be ListBucketResult in the S3 namespace or in no
// namespace. Absent sections yield empty slices, and blank Prefix or Key
// elements are skipped. Any decode failure is returned as a *ParseError.
func Parse(doc []byte) (*Listing, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))

	start, err := rootElement(dec)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if start.Name.Local != "ListBucketResult" || (start.Name.Space != "" && start.Name.Space != Namespace) {
		return nil, &ParseError{Err: fmt.Errorf("%w: got <%s>", ErrUnexpectedRoot, qualified(start.Name))}
	}

	var raw listBucketResult
	if err := dec.DecodeElement(&raw, &start); err != nil {
		return nil, &ParseError{Err: err}
	}

	l := &Listing{
		Name:           strings.TrimSpace(raw.Name),
		Prefix:         raw.Prefix,
		CommonPrefixes: make([]string, 0, len(raw.CommonPrefixes)),
		Contents:       make([]model.KeyRecord, 0, len(raw.Contents)),
		IsTruncated:    raw.IsTruncated,
		NextMarker:     strings.TrimSpace(raw.NextMarker),
	}

	for _, cp := range raw.CommonPrefixes {
		p := strings.TrimSpace(cp.Prefix)
		if p == "" {
			continue
		}
		l.CommonPrefixes = append(l.CommonPrefixes, p)
	}

	for _, c := range raw.Contents {
		k := strings.TrimSpace(c.Key)
		if k == "" {
			continue
		}
		l.Contents = append(l.Contents, model.KeyRecord{
			Key:          k,
			Size:         c.Size,
			ETag:         strings.Trim(strings.TrimSpace(c.ETag), `"`),
			LastModified: strings.TrimSpace(c.LastModified),
		})
	}

	return l, nil
}

// ParseReader reads r fully and parses it.
func ParseReader(r io.Reader) (*Listing, error) {
	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return Parse(doc)
}

// rootElement advances dec to the first start element.
func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, ErrEmptyDocument
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + " " + n.Local
}

// NextCursor returns the cursor for the page after l, and false when l is
// the last page. The marker is NextMarker when present and otherwise the
// greatest key or common prefix on the page. A marker that does not advance
// past cur ends the listing.
func NextCursor(l *Listing, cur Cursor) (Cursor, bool) {
	if l == nil || !l.IsTruncated {
		return Cursor{}, false
	}

	marker := l.NextMarker
	if marker == "" {
		for _, c := range l.Contents {
			if c.Key > marker {
				marker = c.Key
			}
		}
		for _, p := range l.CommonPrefixes {
			if p > marker {
				marker = p
			}
		}
	}

	if marker == "" || marker <= cur.Marker {
		return Cursor{}, false
	}

	page := cur.Page
	if page < 1 {
		page = 1
	}
	return Cursor{Marker: marker, Page: page + 1}, true
}

package cbor64

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Tag numbers of the stringref extension
// (http://cbor.schmorp.de/stringref).
const (
	tagStringRef          = 25
	tagStringRefNamespace = 256
)

// ErrUnknownString is returned by StringRef for a string that was not
// registered with the domain.
var ErrUnknownString = errors.New("cbor64: string not in domain")

// Domain is a string-reference namespace over a fixed set of identifiers.
//
// The first use of an identifier writes it literally. If it is long enough
// to be worth a reference it is also assigned the next table index, and
// every later use writes tag 25 with that index instead.
type Domain struct {
	known map[string]struct{}
	refs  map[string]uint64
	next  uint64
}

// StringRefDomain opens a string-reference namespace around the next item
// written to the stream and returns the domain that StringRef resolves
// against.
func (s *Streamer) StringRefDomain(identifiers ...string) (*Domain, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if len(s.frames) > 0 {
		return nil, ErrNesting
	}
	head, err := tagHead(tagStringRefNamespace)
	if err != nil {
		return nil, errors.Wrap(err, "cbor64: string domain")
	}
	if err := s.enc.Encode(head); err != nil {
		return nil, errors.Wrap(err, "cbor64: string domain")
	}

	d := &Domain{
		known: make(map[string]struct{}, len(identifiers)),
		refs:  make(map[string]uint64),
	}
	for _, id := range identifiers {
		d.known[id] = struct{}{}
	}
	return d, nil
}

// StringRef writes v through domain d.
func (s *Streamer) StringRef(d *Domain, v string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := d.known[v]; !ok {
		return errors.Wrapf(ErrUnknownString, "%q", v)
	}
	if idx, ok := d.refs[v]; ok {
		return s.item(cbor.Tag{Number: tagStringRef, Content: idx})
	}
	if len(v) >= minRefLength(d.next) {
		d.refs[v] = d.next
		d.next++
	}
	return s.item(v)
}

// Len returns the number of strings assigned a reference index.
func (d *Domain) Len() int {
	return len(d.refs)
}

// minRefLength is the shortest string that gets a table entry when the table
// already holds n entries: a reference must be shorter than the literal.
func minRefLength(n uint64) int {
	switch {
	case n < 24:
		return 3
	case n < 256:
		return 4
	case n < 65536:
		return 5
	case n < 1<<32:
		return 7
	default:
		return 11
	}
}

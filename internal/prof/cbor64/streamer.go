// Package cbor64 writes a CBOR item stream as base64 text.
//
// The output is meant for diagnostic channels that only carry printable
// text, such as a console or a log file. Items are written as they are
// produced: indefinite-length arrays go straight to the stream, definite
// arrays are held until their last element arrives.
package cbor64

import (
	"encoding/base64"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

var (
	// ErrTerminated is returned by every call made after Terminate.
	ErrTerminated = errors.New("cbor64: stream terminated")

	// ErrNesting is returned when an indefinite-length item or a string
	// reference domain is opened inside a definite-length array.
	ErrNesting = errors.New("cbor64: indefinite item inside definite array")

	// ErrUnbalanced is returned by EndArray with no open indefinite array and
	// by Terminate while arrays are still open.
	ErrUnbalanced = errors.New("cbor64: unbalanced array")
)

// frame is a definite-length array waiting for its elements.
type frame struct {
	want  int
	items []cbor.RawMessage
}

// Streamer encodes CBOR items to base64 text.
//
// A Streamer is not safe for concurrent use.
type Streamer struct {
	b64    io.WriteCloser
	enc    *cbor.Encoder
	frames []*frame
	indef  int
	done   bool
}

// NewStreamer returns a Streamer writing base64 text to w.
//
// Nothing is guaranteed to reach w before Terminate flushes the final
// base64 quantum.
func NewStreamer(w io.Writer) *Streamer {
	b64 := base64.NewEncoder(base64.StdEncoding, w)
	return &Streamer{
		b64: b64,
		enc: cbor.NewEncoder(b64),
	}
}

// StartArray opens an indefinite-length array.
func (s *Streamer) StartArray() error {
	if err := s.check(); err != nil {
		return err
	}
	if len(s.frames) > 0 {
		return ErrNesting
	}
	if err := s.enc.StartIndefiniteArray(); err != nil {
		return errors.Wrap(err, "cbor64: start array")
	}
	s.indef++
	return nil
}

// EndArray closes the innermost indefinite-length array.
func (s *Streamer) EndArray() error {
	if err := s.check(); err != nil {
		return err
	}
	if len(s.frames) > 0 || s.indef == 0 {
		return ErrUnbalanced
	}
	if err := s.enc.EndIndefinite(); err != nil {
		return errors.Wrap(err, "cbor64: end array")
	}
	s.indef--
	return nil
}

// ArrayLength opens a definite-length array of n items. The array is closed
// implicitly by its n-th item.
func (s *Streamer) ArrayLength(n int) error {
	if err := s.check(); err != nil {
		return err
	}
	if n < 0 {
		return errors.Errorf("cbor64: negative array length %d", n)
	}
	if n == 0 {
		return s.item(make([]cbor.RawMessage, 0))
	}
	s.frames = append(s.frames, &frame{want: n, items: make([]cbor.RawMessage, 0, n)})
	return nil
}

// Uint writes an unsigned integer.
func (s *Streamer) Uint(v uint64) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.item(v)
}

// Int writes a signed integer.
func (s *Streamer) Int(v int64) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.item(v)
}

// String writes a text string without string-reference compression.
func (s *Streamer) String(v string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.item(v)
}

// Terminate flushes the stream. Every array must be closed.
func (s *Streamer) Terminate() error {
	if err := s.check(); err != nil {
		return err
	}
	if len(s.frames) > 0 || s.indef > 0 {
		return ErrUnbalanced
	}
	s.done = true
	return errors.Wrap(s.b64.Close(), "cbor64: flush")
}

func (s *Streamer) check() error {
	if s.done {
		return ErrTerminated
	}
	return nil
}

// item writes one complete data item, either to the stream or into the
// innermost pending definite array.
func (s *Streamer) item(v interface{}) error {
	if len(s.frames) == 0 {
		return errors.Wrap(s.enc.Encode(v), "cbor64: encode")
	}
	raw, err := cbor.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "cbor64: encode")
	}
	return s.push(raw)
}

// push appends raw to the innermost frame and emits every frame completed
// by it.
func (s *Streamer) push(raw cbor.RawMessage) error {
	for {
		top := s.frames[len(s.frames)-1]
		top.items = append(top.items, raw)
		if len(top.items) < top.want {
			return nil
		}
		s.frames = s.frames[:len(s.frames)-1]
		if len(s.frames) == 0 {
			return errors.Wrap(s.enc.Encode(top.items), "cbor64: encode")
		}
		var err error
		if raw, err = cbor.Marshal(top.items); err != nil {
			return errors.Wrap(err, "cbor64: encode")
		}
	}
}

// tagHead returns the encoded head of tag number n without its content.
func tagHead(n uint64) (cbor.RawMessage, error) {
	b, err := cbor.Marshal(cbor.Tag{Number: n, Content: uint64(0)})
	if err != nil {
		return nil, err
	}
	// Content 0 encodes as the single byte 0x00.
	return b[:len(b)-1], nil
}

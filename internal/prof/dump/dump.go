// Package dump serializes the profile registry and parses captured dumps.
//
// A dump is an indefinite-length sequence of two-element records
// [function address, cycles]. Writing a record resets the node it came from,
// so consecutive dumps report disjoint windows.
package dump

import (
	"io"

	"github.com/pkg/errors"

	"github.com/kolkov/cycleprof/internal/prof/cbor64"
	"github.com/kolkov/cycleprof/internal/prof/node"
)

// Header is the line that precedes every dump payload in a text stream.
const Header = "PROFILE DUMP:"

// Encoder is the streaming encoder a dump is written through.
//
// *cbor64.Streamer implements Encoder.
type Encoder interface {
	StartArray() error
	ArrayLength(n int) error
	Uint(v uint64) error
	EndArray() error
	Terminate() error
}

// Write streams every node reachable from reg through enc and resets each
// node after its record has been accepted by the encoder.
//
// Write stops at the first encoder error and returns it wrapped with the
// failing step. Nodes visited before the failure stay reset; the failing node
// and every node after it keep their counts.
//
// Write never blocks hooks running concurrently. A hook adding to a node
// between its read and its reset loses that increment, and a hook that
// publishes a node during the walk may or may not be included.
func Write(reg *node.Registry, enc Encoder) error {
	if err := enc.StartArray(); err != nil {
		return errors.Wrap(err, "dump: start array")
	}

	var err error
	reg.Range(func(n *node.Node) bool {
		err = writeRecord(enc, n)
		return err == nil
	})
	if err != nil {
		return err
	}

	if err := enc.EndArray(); err != nil {
		return errors.Wrap(err, "dump: end array")
	}
	if err := enc.Terminate(); err != nil {
		return errors.Wrap(err, "dump: terminate")
	}
	return nil
}

func writeRecord(enc Encoder, n *node.Node) error {
	if err := enc.ArrayLength(2); err != nil {
		return errors.Wrapf(err, "dump: record %#x: array length", n.Fn())
	}
	if err := enc.Uint(uint64(n.Fn())); err != nil {
		return errors.Wrapf(err, "dump: record %#x: function", n.Fn())
	}
	if err := enc.Uint(n.Cycles()); err != nil {
		return errors.Wrapf(err, "dump: record %#x: cycles", n.Fn())
	}
	n.Reset()
	return nil
}

// WriteText writes one framed dump to w: the Header line, the base64 text of
// the CBOR stream, and a trailing newline.
func WriteText(w io.Writer, reg *node.Registry) error {
	if _, err := io.WriteString(w, Header+"\n"); err != nil {
		return errors.Wrap(err, "dump: header")
	}
	if err := Write(reg, cbor64.NewStreamer(w)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return errors.Wrap(err, "dump: trailer")
	}
	return nil
}

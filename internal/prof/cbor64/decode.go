package cbor64

import (
	"encoding/base64"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Decode returns the CBOR bytes carried by base64 text. Whitespace, including
// line breaks inserted by log collectors, is ignored.
func Decode(text string) ([]byte, error) {
	compact := strings.Join(strings.Fields(text), "")
	data, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, errors.Wrap(err, "cbor64: base64")
	}
	return data, nil
}

// Unmarshal decodes base64 text and unmarshals the CBOR item it carries
// into v.
func Unmarshal(text string, v interface{}) error {
	data, err := Decode(text)
	if err != nil {
		return err
	}
	return errors.Wrap(cbor.Unmarshal(data, v), "cbor64: unmarshal")
}

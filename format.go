package shoplist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel errors for format handling.
var (
	// ErrUnsupportedFormat is returned for format names outside the closed set.
	ErrUnsupportedFormat = errors.New("shoplist: unsupported format")

	// ErrModelRequired is returned when a JSON payload is decoded without a
	// destination model. Plain JSON cannot self-describe its structured type.
	ErrModelRequired = errors.New("shoplist: model is required for json decoding")
)

// Format is the closed set of serialization formats supported by the
// persistence tiers. Each format carries its own encoder/decoder pair and
// file extension; there is no open string dispatch.
type Format string

const (
	// FormatJSON stores structured model objects as indented JSON.
	// Decoding requires a destination model.
	FormatJSON Format = "json"
	// FormatBinary stores arbitrary values as msgpack. Self-describing:
	// decodes into a generic value when no model is given.
	FormatBinary Format = "binary"
	// FormatCompact stores large values as zstd-compressed CBOR.
	FormatCompact Format = "compact"
	// FormatHTML stores page content verbatim with an .html extension.
	FormatHTML Format = "html"
	// FormatText stores plain text.
	FormatText Format = "text"
)

// ParseFormat maps a format name (case-insensitive) to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatBinary, FormatCompact, FormatHTML, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// String returns the format name as stored in metadata sidecars.
func (f Format) String() string { return string(f) }

// Ext returns the payload file extension for the format, without the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "bin"
	case FormatCompact:
		return "cbz"
	case FormatHTML:
		return "html"
	case FormatText:
		return "txt"
	default:
		return "dat"
	}
}

// Valid reports whether f is a member of the closed format set.
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatBinary, FormatCompact, FormatHTML, FormatText:
		return true
	}
	return false
}

// zstd round-trips are stateless here; the shared coders are concurrency-safe
// for EncodeAll/DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Encode serializes a value in this format.
func (f Format) Encode(v any) ([]byte, error) {
	switch f {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
		return data, nil
	case FormatBinary:
		data, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding msgpack: %w", err)
		}
		return data, nil
	case FormatCompact:
		raw, err := cbor.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding cbor: %w", err)
		}
		return zstdEncoder.EncodeAll(raw, nil), nil
	case FormatHTML, FormatText:
		return encodeText(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// Decode deserializes a payload in this format. For FormatJSON, model must be
// a non-nil pointer to the destination type and the decoded model is
// returned. For the self-describing binary formats, model is optional; when
// nil the payload decodes into a generic value.
func (f Format) Decode(data []byte, model any) (any, error) {
	switch f {
	case FormatJSON:
		if model == nil {
			return nil, ErrModelRequired
		}
		if err := json.Unmarshal(data, model); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
		return model, nil
	case FormatBinary:
		if model != nil {
			if err := msgpack.Unmarshal(data, model); err != nil {
				return nil, fmt.Errorf("decoding msgpack: %w", err)
			}
			return model, nil
		}
		var v any
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding msgpack: %w", err)
		}
		return v, nil
	case FormatCompact:
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing payload: %w", err)
		}
		if model != nil {
			if err := cbor.Unmarshal(raw, model); err != nil {
				return nil, fmt.Errorf("decoding cbor: %w", err)
			}
			return model, nil
		}
		var v any
		if err := cbor.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding cbor: %w", err)
		}
		return v, nil
	case FormatHTML, FormatText:
		return string(data), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// encodeText converts a value to UTF-8 bytes for the text-like formats.
// Values without a natural string form fall back to JSON, matching how
// callers persist ad hoc objects for inspection.
func encodeText(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	case fmt.Stringer:
		return []byte(s.String()), nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding value as text: %w", err)
		}
		return data, nil
	}
}

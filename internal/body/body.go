// Package body classifies raw HTTP payloads.
//
// DESIGN: A captured body is either kept as the raw text it arrived as, or
// parsed into structured JSON. Body is the tagged variant of the two:
//   - Raw:        streaming event payloads, plain text, malformed JSON
//   - Structured: anything that starts with '{' or '[' and parses
//
// Transcripts store Structured bodies as JSON values and Raw bodies as JSON
// strings, so a stored transcript decodes back into the same variant.
package body

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/capture-gateway/internal/utils"
)

type variant int

const (
	kindRaw variant = iota
	kindStructured
)

// Body is either raw text or a parsed JSON document.
// The zero value is an empty raw body.
type Body struct {
	kind  variant
	raw   string
	value json.RawMessage
}

// FromRaw wraps text that must be kept verbatim.
func FromRaw(s string) Body {
	return Body{kind: kindRaw, raw: s}
}

// EncodingBase64 marks a raw body holding base64 of bytes that are not valid UTF-8.
const EncodingBase64 = "base64"

// FromBytes wraps a payload for persistence. Valid UTF-8 is kept as text;
// anything else is base64-encoded and the returned encoding is EncodingBase64,
// since a JSON string cannot carry arbitrary bytes.
func FromBytes(b []byte) (Body, string) {
	if utf8.Valid(b) {
		return FromRaw(string(b)), ""
	}
	return FromRaw(base64.StdEncoding.EncodeToString(b)), EncodingBase64
}

// FromJSON wraps an already validated JSON document.
func FromJSON(v json.RawMessage) Body {
	return Body{kind: kindStructured, value: v}
}

// IsStructured reports whether the body was parsed as JSON.
func (b Body) IsStructured() bool { return b.kind == kindStructured }

// IsObject reports whether the body is a structured JSON object.
func (b Body) IsObject() bool {
	return b.kind == kindStructured && gjson.ParseBytes(b.value).IsObject()
}

// Text returns the body as text: the raw string, or the JSON document.
func (b Body) Text() string {
	if b.kind == kindStructured {
		return string(b.value)
	}
	return b.raw
}

// Get reads a gjson path from a structured body.
// Raw bodies always yield a non-existent result.
func (b Body) Get(path string) gjson.Result {
	if b.kind != kindStructured {
		return gjson.Result{}
	}
	return gjson.GetBytes(b.value, path)
}

// IsEmpty reports whether the body carries nothing: an empty string,
// an empty object or an empty array.
func (b Body) IsEmpty() bool {
	if b.kind != kindStructured {
		return b.raw == ""
	}
	root := gjson.ParseBytes(b.value)
	if !root.IsObject() && !root.IsArray() {
		return false
	}
	empty := true
	root.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

// MarshalJSON writes structured bodies as-is and raw bodies as JSON strings.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.kind == kindStructured {
		return b.value, nil
	}
	return utils.MarshalNoEscape(b.raw)
}

// UnmarshalJSON restores the variant: a JSON string is raw, anything else structured.
func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*b = FromRaw(s)
		return nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		*b = FromRaw("")
		return nil
	}
	*b = FromJSON(append(json.RawMessage(nil), trimmed...))
	return nil
}

// Classify decides how a raw payload should be kept.
//
// Empty text, streaming event payloads and text that does not look like JSON
// stay raw. JSON-looking text that fails to parse also stays raw so that a
// malformed body never breaks forwarding or persistence.
func Classify(s string) Body {
	stripped := strings.TrimSpace(s)
	if stripped == "" {
		return FromRaw(s)
	}
	if strings.HasPrefix(stripped, "event:") {
		return FromRaw(s)
	}
	if !strings.HasPrefix(stripped, "{") && !strings.HasPrefix(stripped, "[") {
		return FromRaw(s)
	}
	if !json.Valid([]byte(stripped)) {
		log.Debug().
			Int("size", len(s)).
			Str("prefix", utils.Truncate(stripped, 64)).
			Msg("body: JSON-looking payload failed to parse, keeping raw")
		return FromRaw(s)
	}
	return FromJSON(json.RawMessage(stripped))
}

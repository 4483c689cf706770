package forward

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// maxDecodedSize bounds decompression of persisted bodies.
const maxDecodedSize = 256 << 20

// DecodeForLog returns the response body for persistence, undoing gzip,
// deflate, zstd or br content encoding. Unknown or corrupt encodings yield
// the bytes as received. The relayed response is never touched.
func DecodeForLog(header http.Header, body []byte) []byte {
	encoding := strings.ToLower(strings.TrimSpace(header.Get("Content-Encoding")))
	if encoding == "" || encoding == "identity" || len(body) == 0 {
		return body
	}

	decoded, err := decode(encoding, body)
	if err != nil {
		log.Debug().Err(err).Str("encoding", encoding).Msg("forward: cannot decode response body, storing as received")
		return body
	}
	return decoded
}

func decode(encoding string, body []byte) ([]byte, error) {
	var r io.Reader
	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "deflate":
		// RFC 9110 deflate is zlib-wrapped; some servers send raw deflate.
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(body))
			defer fr.Close()
			r = fr
		} else {
			defer zr.Close()
			r = zr
		}
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		return nil, &unsupportedEncodingError{encoding}
	}
	return io.ReadAll(io.LimitReader(r, maxDecodedSize))
}

type unsupportedEncodingError struct{ encoding string }

func (e *unsupportedEncodingError) Error() string {
	return "unsupported content encoding: " + e.encoding
}

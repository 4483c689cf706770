package forward

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForward_RelaysRequestAndResponse(t *testing.T) {
	var gotMethod, gotURI string
	var gotBody []byte
	var gotHeader http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotURI = r.URL.RequestURI()
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f, err := New(upstream.URL+"/", nil)
	require.NoError(t, err)
	assert.Equal(t, upstream.URL, f.BaseURL())

	h := http.Header{}
	h.Set("x-api-key", "sk-ant-test-key-123456")
	h.Set("anthropic-version", "2023-06-01")
	h.Set("Upgrade", "h2c")
	h.Set("Connection", "keep-alive")

	res, err := f.Forward(context.Background(), http.MethodPost, "/v1/messages?beta=true", h, []byte(`{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/messages?beta=true", gotURI)
	assert.Equal(t, `{"a":1}`, string(gotBody))
	assert.Equal(t, "sk-ant-test-key-123456", gotHeader.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", gotHeader.Get("anthropic-version"))
	assert.Empty(t, gotHeader.Get("Upgrade"))

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
	assert.Equal(t, "yes", res.Header.Get("X-Upstream"))
}

func TestForward_UpstreamErrorIsNotAnError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error"}`))
	}))
	defer upstream.Close()

	f, err := New(upstream.URL, nil)
	require.NoError(t, err)
	res, err := f.Forward(context.Background(), http.MethodGet, "/v1/models", http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, `{"type":"error"}`, string(res.Body))
}

func TestForward_TransportFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	f, err := New(url, nil)
	require.NoError(t, err)
	_, err = f.Forward(context.Background(), http.MethodPost, "/v1/messages", http.Header{}, []byte("{}"))
	assert.Error(t, err)
}

func TestForward_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	f, err := New(upstream.URL, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Forward(ctx, http.MethodPost, "/v1/messages", http.Header{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", nil)
	assert.Error(t, err)
	_, err = New("://nope", nil)
	assert.Error(t, err)

	f, err := New("", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.anthropic.com", f.BaseURL())
}

func TestFilterHeaders(t *testing.T) {
	h := http.Header{
		"Host":           {"localhost:8000"},
		"Content-Length": {"12"},
		"Connection":     {"keep-alive"},
		"Upgrade":        {"websocket"},
		"X-Api-Key":      {"k"},
		"Accept":         {"a", "b"},
	}
	// Non-canonical keys are matched case-insensitively too.
	h["content-length"] = []string{"12"}

	out := FilterHeaders(h)
	assert.Equal(t, http.Header{
		"X-Api-Key": {"k"},
		"Accept":    {"a", "b"},
	}, out)

	out["Accept"][0] = "changed"
	assert.Equal(t, "a", h["Accept"][0], "input is not aliased")
}

func TestDecodeForLog(t *testing.T) {
	const text = `{"type":"message","content":"héllo"}`

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(text))
	require.NoError(t, gw.Close())

	var zl bytes.Buffer
	zw := zlib.NewWriter(&zl)
	_, _ = zw.Write([]byte(text))
	require.NoError(t, zw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zs := enc.EncodeAll([]byte(text), nil)
	require.NoError(t, enc.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(text))
	require.NoError(t, bw.Close())

	binary := []byte{0x1b, 0xff, 0xfe, 0x80, 0x81, 0x00, 'A'}

	tests := []struct {
		name     string
		encoding string
		body     []byte
		want     []byte
	}{
		{"identity", "", []byte(text), []byte(text)},
		{"gzip", "gzip", gz.Bytes(), []byte(text)},
		{"gzip upper case", "GZIP", gz.Bytes(), []byte(text)},
		{"deflate", "deflate", zl.Bytes(), []byte(text)},
		{"zstd", "zstd", zs, []byte(text)},
		{"br", "br", br.Bytes(), []byte(text)},
		{"corrupt gzip", "gzip", []byte("not gzip"), []byte("not gzip")},
		{"corrupt br keeps bytes", "br", binary, binary},
		{"unsupported", "compress", []byte("lzw?"), []byte("lzw?")},
		{"empty", "gzip", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.encoding != "" {
				h.Set("Content-Encoding", tt.encoding)
			}
			assert.Equal(t, tt.want, DecodeForLog(h, tt.body))
		})
	}
}

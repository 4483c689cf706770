package body

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		structured bool
	}{
		{"empty", "", false},
		{"whitespace only", "  \n\t", false},
		{"sse payload", "event: message_start\ndata: {\"type\":\"message_start\"}\n", false},
		{"sse payload with leading space", "  event: ping\n", false},
		{"plain text", "hello world", false},
		{"object", `{"model":"claude"}`, true},
		{"array", `[1,2,3]`, true},
		{"object with surrounding space", "\n  {\"a\": 1}  \n", true},
		{"malformed object", `{"model": `, false},
		{"malformed array", `[1, 2,`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Classify(tt.input)
			assert.Equal(t, tt.structured, b.IsStructured())
			if !tt.structured {
				assert.Equal(t, tt.input, b.Text(), "raw bodies must be returned unchanged")
			}
		})
	}
}

func TestClassify_MalformedJSONKeepsRawString(t *testing.T) {
	input := `{"messages": [`
	b := Classify(input)

	assert.False(t, b.IsStructured())
	assert.Nil(t, b.value)

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, `"{\"messages\": ["`, string(out))
}

func TestFromBytes(t *testing.T) {
	text, encoding := FromBytes([]byte("héllo"))
	assert.Empty(t, encoding)
	assert.Equal(t, "héllo", text.Text())

	raw := []byte{0x1b, 0xff, 0xfe, 0x80, 0x81, 0x00, 'A'}
	bin, encoding := FromBytes(raw)
	assert.Equal(t, EncodingBase64, encoding)

	// The encoded form survives a JSON round trip unchanged.
	data, err := json.Marshal(bin)
	require.NoError(t, err)
	var out Body
	require.NoError(t, json.Unmarshal(data, &out))
	decoded, err := base64.StdEncoding.DecodeString(out.Text())
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestBody_IsObject(t *testing.T) {
	assert.True(t, Classify(`{"a":1}`).IsObject())
	assert.False(t, Classify(`[{"a":1}]`).IsObject())
	assert.False(t, Classify(`plain`).IsObject())
}

func TestBody_IsEmpty(t *testing.T) {
	assert.True(t, Body{}.IsEmpty())
	assert.True(t, FromRaw("").IsEmpty())
	assert.True(t, Classify(`{}`).IsEmpty())
	assert.True(t, Classify(`[ ]`).IsEmpty())
	assert.False(t, FromRaw(" ").IsEmpty())
	assert.False(t, Classify(`{"a":null}`).IsEmpty())
	assert.False(t, Classify(`[0]`).IsEmpty())
}

func TestBody_Get(t *testing.T) {
	b := Classify(`{"metadata":{"user_id":"user_abc"}}`)
	assert.Equal(t, "user_abc", b.Get("metadata.user_id").String())
	assert.False(t, FromRaw(`{"metadata":{}}`).Get("metadata").Exists())
}

func TestBody_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Body Body `json:"body"`
	}

	t.Run("structured stays structured", func(t *testing.T) {
		in := wrapper{Body: Classify(`{"text":"<b>ünïcode</b>"}`)}
		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out wrapper
		require.NoError(t, json.Unmarshal(data, &out))
		assert.True(t, out.Body.IsStructured())
		assert.JSONEq(t, `{"text":"<b>ünïcode</b>"}`, out.Body.Text())
	})

	t.Run("raw stays raw", func(t *testing.T) {
		sse := "event: ping\ndata: {}\n\n"
		data, err := json.Marshal(wrapper{Body: Classify(sse)})
		require.NoError(t, err)

		var out wrapper
		require.NoError(t, json.Unmarshal(data, &out))
		assert.False(t, out.Body.IsStructured())
		assert.Equal(t, sse, out.Body.Text())
	})

	t.Run("null decodes to empty raw", func(t *testing.T) {
		var out wrapper
		require.NoError(t, json.Unmarshal([]byte(`{"body":null}`), &out))
		assert.True(t, out.Body.IsEmpty())
	})
}

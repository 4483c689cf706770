package body

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/capture-gateway/internal/utils"
)

const ssePrefix = "data: "

// ExtractStreamText assembles the assistant text of a streamed Messages response.
//
// Only content_block_delta events carrying a text_delta contribute, in arrival
// order. Unparseable data lines are skipped. When no text is found the payload
// is returned unchanged.
func ExtractStreamText(sse string) string {
	if strings.TrimSpace(sse) == "" {
		return sse
	}

	var sb strings.Builder
	found := false
	for _, line := range strings.Split(strings.TrimSpace(sse), "\n") {
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		payload := line[len(ssePrefix):]
		if strings.TrimSpace(payload) == "" {
			continue
		}
		if !gjson.Valid(payload) {
			log.Debug().Str("line", utils.Truncate(line, 200)).Msg("stream: skipping unparseable event")
			continue
		}

		event := gjson.Parse(payload)
		if event.Get("type").String() != "content_block_delta" {
			continue
		}
		delta := event.Get("delta")
		if !delta.Exists() || delta.Get("type").String() != "text_delta" {
			continue
		}
		sb.WriteString(delta.Get("text").String())
		found = true
	}

	if !found {
		return sse
	}
	return sb.String()
}

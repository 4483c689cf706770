// Package rewrite tightens advisory wording in outgoing Messages requests.
//
// DESIGN: Claude Code wraps CLAUDE.md context in a "may or may not be relevant"
// disclaimer. When enabled, the gateway swaps that sentence for a stricter one
// in every text content block of every message before forwarding.
//
// The system prompt is never touched: the first system entry must match the
// exact value the upstream expects or the request is rejected. Edits are made
// with sjson path writes, so every byte outside a modified text value is kept.
package rewrite

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/capture-gateway/internal/body"
	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/utils"
)

const (
	// LooseInstruction is the disclaimer Claude Code attaches to injected context.
	LooseInstruction = "IMPORTANT: this context may or may not be relevant to your tasks. " +
		"You should not respond to this context unless it is highly relevant to your task."

	// StrictInstruction replaces LooseInstruction.
	StrictInstruction = "IMPORTANT: You must strictly adhere to the instructions in this context. " +
		"After executing each task, you must ask yourself if you have complied with these instructions."
)

// Rewriter applies the instruction substitution when enabled.
type Rewriter struct {
	enabled bool
}

// New creates a rewriter. A disabled rewriter is a no-op.
func New(enabled bool) *Rewriter {
	return &Rewriter{enabled: enabled}
}

// Enabled reports whether rewriting is switched on.
func (r *Rewriter) Enabled() bool {
	return r != nil && r.enabled
}

// Applies reports whether a request to path should be rewritten.
func (r *Rewriter) Applies(path string) bool {
	return r.Enabled() && strings.HasPrefix(path, config.MessagesPathPrefix)
}

// Rewrite returns the body with every LooseInstruction replaced.
// The second return value counts the text blocks that changed.
func (r *Rewriter) Rewrite(raw string) (string, int) {
	out, changed, err := RewriteBody(raw)
	if err != nil {
		log.Warn().Err(err).Msg("rewrite: failed to apply, forwarding original body")
		return raw, 0
	}
	return out, changed
}

// RewriteBody performs the substitution on a raw request body.
//
// Bodies that are not JSON objects, or carry no messages, come back
// byte-identical. Messages whose content is a plain string are skipped, as are
// content blocks without a text field (thinking, tool_use, images).
func RewriteBody(raw string) (string, int, error) {
	parsed := body.Classify(raw)
	if !parsed.IsObject() {
		return raw, 0, nil
	}

	messages := parsed.Get("messages")
	if !messages.IsArray() {
		return raw, 0, nil
	}

	out := parsed.Text()
	changed := 0
	var setErr error
	messages.ForEach(func(mi, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(bi, block gjson.Result) bool {
			text := block.Get("text")
			if text.Type != gjson.String {
				return true
			}
			replaced := replaceLines(text.String())
			if replaced == text.String() {
				return true
			}
			encoded, err := utils.MarshalNoEscape(replaced)
			if err != nil {
				setErr = err
				return false
			}
			path := fmt.Sprintf("messages.%d.content.%d.text", mi.Int(), bi.Int())
			out, err = sjson.SetRaw(out, path, string(encoded))
			if err != nil {
				setErr = fmt.Errorf("set %s: %w", path, err)
				return false
			}
			changed++
			return true
		})
		return setErr == nil
	})
	if setErr != nil {
		return raw, 0, setErr
	}
	if changed == 0 {
		return raw, 0, nil
	}
	return out, changed, nil
}

func replaceLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.Contains(line, LooseInstruction) {
			lines[i] = strings.ReplaceAll(line, LooseInstruction, StrictInstruction)
		}
	}
	return strings.Join(lines, "\n")
}

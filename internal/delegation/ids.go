package delegation

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cloudwego/eino/schema"
)

// MessageID identifies a message for de-duplication. Model responses carry
// the provider id in Extra["id"]; tool results are keyed by their call id;
// anything else falls back to a content hash.
func MessageID(m *schema.Message) string {
	if m == nil {
		return ""
	}
	if id, ok := m.Extra["id"].(string); ok && id != "" {
		return id
	}
	if m.Role == schema.Tool && m.ToolCallID != "" {
		return "tool:" + m.ToolCallID
	}
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	write(string(m.Role))
	write(m.Name)
	for _, tc := range m.ToolCalls {
		write(tc.ID)
		write(tc.Function.Name)
		write(tc.Function.Arguments)
	}
	write(m.Content)
	return fmt.Sprintf("h:%016x", h.Sum64())
}

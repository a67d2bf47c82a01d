package agent

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// ComposeContext 将模板中的 {{key}} 替换为 state 中的值，缺失的键替换为空串。
func ComposeContext(template string, state State) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := state[key]
		if !ok || v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	})
}

func formatMessages(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		user := m.UserID
		if user == "" {
			user = "user"
		}
		b.WriteString(user)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Text))
	}
	return b.String()
}

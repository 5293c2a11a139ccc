package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Fields that carry caller data. Phone numbers keep their last four digits so
// support can still match a call; free text is replaced by its length.
var (
	phoneFieldKeys = map[string]struct{}{
		"phone_number":  {},
		"to_number":     {},
		"from_number":   {},
		"caller_phone":  {},
		"claimed_phone": {},
	}
	textFieldKeys = map[string]struct{}{
		"transcript":           {},
		"caller_name":          {},
		"caller_address":       {},
		"issue_description":    {},
		"conversation_summary": {},
	}
)

type redactCore struct {
	zapcore.Core
}

// NewRedactCore masks caller data on every entry written through core.
func NewRedactCore(core zapcore.Core) zapcore.Core {
	return &redactCore{Core: core}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *redactCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		masked, ok := redactField(f)
		if !ok {
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, len(fields))
			copy(out, fields)
		}
		out[i] = masked
	}
	if out == nil {
		return fields
	}
	return out
}

func redactField(f zapcore.Field) (zapcore.Field, bool) {
	if f.Type != zapcore.StringType {
		return f, false
	}
	if _, ok := phoneFieldKeys[f.Key]; ok {
		f.String = MaskPhone(f.String)
		return f, true
	}
	if _, ok := textFieldKeys[f.Key]; ok {
		f.String = fmt.Sprintf("[redacted len=%d]", len(f.String))
		return f, true
	}
	return f, false
}

// MaskPhone keeps the last four digits of a phone number.
func MaskPhone(value string) string {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}

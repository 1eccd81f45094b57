package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

const redactedValue = "[REDACTED]"

// redactCore replaces the values of configured fields before delegating to
// the wrapped core. Matching is case-insensitive on the field key.
type redactCore struct {
	zapcore.Core
	fields map[string]bool
}

func newRedactCore(core zapcore.Core, fields []string) zapcore.Core {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = true
	}
	return &redactCore{Core: core, fields: set}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.redact(fields)), fields: c.fields}
}

func (c *redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, c.redact(fields))
}

func (c *redactCore) redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	copy(out, fields)
	for i := range out {
		if c.fields[strings.ToLower(out[i].Key)] {
			out[i] = zapcore.Field{Key: out[i].Key, Type: zapcore.StringType, String: redactedValue}
		}
	}
	return out
}

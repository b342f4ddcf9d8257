package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of every sensitive attribute.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked by the Setup handler wherever they appear, so a
// careless slog.String("signature", ...) still never reaches the sink.
var sensitiveKeys = map[string]struct{}{
	"signature":           {},
	"sig":                 {},
	"passphrase":          {},
	"keystore_passphrase": {},
	"password":            {},
	"private_key":         {},
	"hmac_secret":         {},
	"authorization":       {},
	"otlp_headers":        {},
}

// Sensitive reports whether values logged under key are masked.
func Sensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	return strings.HasSuffix(normalized, "_secret") || strings.HasSuffix(normalized, "_passphrase")
}

// MaskValue returns the placeholder for non-empty values. Empty values pass
// through so a log line still shows that nothing was supplied.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a string attribute whose value is masked when key is
// sensitive.
func MaskField(key, value string) slog.Attr {
	if Sensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}

// redactAttr is installed as part of the handler's ReplaceAttr chain.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !Sensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}

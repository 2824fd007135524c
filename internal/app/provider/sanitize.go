package provider

import (
	"strings"
	"unicode"
)

// secretMarkers match setting keys once lowercased with separators removed,
// so "api_key", "API-Key" and "apiKey" are all caught.
var secretMarkers = []string{
	"secret",
	"passphrase",
	"apikey",
	"accesskey",
	"privatekey",
	"privkey",
	"token",
	"password",
	"authorization",
	"rpcurl",
}

// SanitizeConfig copies adapter settings without any key that looks like a
// credential. Nested maps and lists are scrubbed too; containers left empty
// are dropped. The input is not modified.
func SanitizeConfig(cfg map[string]any) map[string]any {
	clean, keep := scrubMap(cfg)
	if !keep {
		return nil
	}
	return clean
}

// SanitizeSpec returns a copy of spec safe to expose on the status API.
func SanitizeSpec(spec Spec) Spec {
	return Spec{
		Name:    spec.Name,
		Adapter: spec.Adapter,
		Config:  SanitizeConfig(spec.Config),
	}
}

func isSecretKey(key string) bool {
	folded := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.', ' ':
			return -1
		}
		return unicode.ToLower(r)
	}, strings.TrimSpace(key))
	if folded == "" {
		return false
	}
	for _, marker := range secretMarkers {
		if strings.Contains(folded, marker) {
			return true
		}
	}
	return false
}

func scrubMap(in map[string]any) (map[string]any, bool) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if isSecretKey(k) {
			continue
		}
		if clean, keep := scrub(v); keep {
			out[k] = clean
		}
	}
	return out, len(out) > 0
}

func scrub(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return scrubMap(v)
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			if !isSecretKey(k) {
				out[k] = s
			}
		}
		return out, len(out) > 0
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if clean, keep := scrub(item); keep {
				out = append(out, clean)
			}
		}
		return out, len(out) > 0
	case []string:
		return append([]string(nil), v...), true
	default:
		return value, true
	}
}

package debate

import (
	"fmt"
	"io"
	"net/url"
	"unicode/utf8"
)

// MaxSecretPrefix is the most characters of a credential that are ever
// written to logs.
const MaxSecretPrefix = 10

// MaskSecret returns at most n leading characters of secret followed by an
// ellipsis. The prefix is additionally limited to MaxSecretPrefix and to half
// of the secret so that a short value is never printed in full.
func MaskSecret(secret string, n int) string {
	length := utf8.RuneCountInString(secret)
	if length == 0 {
		return "<unset>"
	}
	n = min(n, MaxSecretPrefix, length/2)
	if n <= 0 {
		return fmt.Sprintf("*** (%d chars)", length)
	}
	runes := []rune(secret)
	return fmt.Sprintf("%s... (%d chars)", string(runes[:n]), length)
}

// PrintBanner writes the startup diagnostics: a starting message, the port
// and masked prefixes of both API keys.
func PrintBanner(w io.Writer, cfg Config) {
	fmt.Fprintln(w, "Starting Dual-AI Dissertation Debate...")
	fmt.Fprintf(w, "PORT: %d\n", cfg.Port)
	fmt.Fprintf(w, "OPENAI_API_KEY: %s\n", MaskSecret(cfg.OpenAIAPIKey, cfg.SecretPrefixLen))
	fmt.Fprintf(w, "GOOGLE_API_KEY: %s\n", MaskSecret(cfg.GoogleAPIKey, cfg.SecretPrefixLen))
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return "<unset>"
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

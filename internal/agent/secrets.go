package agent

import "regexp"

// DefaultMaxToolResultChars bounds tool output before it ever reaches the
// Context Manager's own truncation pass, protecting against a single
// pathological tool blowing up memory before accounting even runs.
const DefaultMaxToolResultChars = 64 * 1024

var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// SanitizeToolResult redacts common secret shapes from a tool's raw
// output and hard-truncates anything past DefaultMaxToolResultChars,
// before the result is cached or handed back to the provider.
func SanitizeToolResult(result string) string {
	if len(result) > DefaultMaxToolResultChars {
		result = result[:DefaultMaxToolResultChars] + "\n...[truncated]"
	}
	for _, re := range builtinSecretPatterns {
		result = re.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// DetectSecrets reports which builtin secret patterns matched content,
// for logging or alerting on potential leakage.
func DetectSecrets(content string) []string {
	if content == "" {
		return nil
	}
	names := []string{"api_key", "bearer_token", "aws_key", "generic_secret", "private_key"}
	var matches []string
	for i, re := range builtinSecretPatterns {
		if re.MatchString(content) {
			matches = append(matches, names[i])
		}
	}
	return matches
}

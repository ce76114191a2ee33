package notify

import "strings"

// knownBotFragments is the built-in classifier. Any user agent containing one
// of these, case-insensitively, is treated as automated traffic.
var knownBotFragments = []string{
	"bot",
	"crawler",
	"spider",
	"slurp",
	"curl/",
	"wget/",
	"python-requests",
	"go-http-client",
	"headlesschrome",
	"phantomjs",
	"pingdom",
	"uptimerobot",
}

// IsBotUserAgent reports whether the user agent looks automated, either via
// the built-in classifier or a project-configured wildcard pattern.
func IsBotUserAgent(userAgent string, projectPatterns []string) bool {
	if userAgent == "" {
		return false
	}
	lowered := strings.ToLower(userAgent)
	for _, fragment := range knownBotFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	for _, pattern := range projectPatterns {
		if matchWildcard(strings.ToLower(strings.TrimSpace(pattern)), lowered) {
			return true
		}
	}
	return false
}

// matchWildcard matches '*' against any run of characters. Patterns without a
// wildcard match as substrings, which is how project bot lists are usually
// written.
func matchWildcard(pattern, value string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return strings.Contains(value, pattern)
	}

	parts := strings.Split(pattern, "*")
	remainder := value
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(remainder, part)
		if idx == -1 {
			return false
		}
		if i == 0 && !strings.HasPrefix(value, part) {
			return false
		}
		remainder = remainder[idx+len(part):]
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	return true
}

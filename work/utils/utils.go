package utils

import (
	"net/url"
	"strings"

	"kptv-player/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// LogURLWithFlag is LogURL for callers that only carry the obfuscation flag
func LogURLWithFlag(obfuscate bool, url string) string {
	if obfuscate {
		return ObfuscateURL(url)
	}
	return url
}

var nameReplacer = strings.NewReplacer(
	" ", "_",
	",", "_",
	"\"", "",
	"'", "",
	"/", "_",
	"\\", "_",
	"?", "_",
	"&", "_",
	"=", "_",
	":", "_",
	";", "_",
	"|", "_",
	"*", "_",
	"<", "_",
	">", "_",
)

// SanitizeName turns a display name into a URL path safe token,
// used when deriving per-item proxy URLs.
func SanitizeName(name string) string {
	sanitized := nameReplacer.Replace(name)

	// Remove consecutive underscores
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}

	return strings.Trim(sanitized, "_")
}

// OriginPrefix returns the first three "/"-separated segments of a URL,
// i.e. "scheme://host[:port]". Inputs without two slashes after the scheme
// are returned as far as they go.
func OriginPrefix(rawURL string) string {
	parts := strings.SplitN(rawURL, "/", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "/")
}

// ObfuscateURL keeps scheme and host and masks path, query and fragment
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

package society

import (
	"mime"
	"net/url"
	"strings"
	"unicode"
)

const defaultDownloadName = "download"

// FilenameFromDisposition extracts the suggested filename from a Content-Disposition header.
// The RFC 5987 filename* parameter wins over the plain filename parameter.
func FilenameFromDisposition(header string) (string, bool) {
	if strings.TrimSpace(header) == "" {
		return "", false
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if filename, ok := params["filename"]; ok && filename != "" {
			return filename, true
		}
	}
	return scanDisposition(header)
}

// scanDisposition handles headers mime.ParseMediaType rejects, such as unquoted names with spaces
// or charsets it cannot decode.
func scanDisposition(header string) (string, bool) {
	var plain string
	var plainFound bool
	for _, segment := range strings.Split(header, ";") {
		name, value, found := strings.Cut(segment, "=")
		if !found {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		switch name {
		case "filename*":
			if _, encoded, ok := strings.Cut(value, "''"); ok {
				if decoded, err := url.PathUnescape(encoded); err == nil {
					return decoded, true
				}
				return encoded, true
			}
			return strings.Trim(value, `"`), true
		case "filename":
			if !plainFound {
				plain = strings.Trim(value, `"`)
				plainFound = true
			}
		}
	}
	return plain, plainFound
}

// SanitizeFilename replaces control and path characters with '_' and falls back to "download".
func SanitizeFilename(name string) string {
	sanitized := strings.Map(func(character rune) rune {
		if unicode.IsControl(character) || strings.ContainsRune(`<>:"/\|?*`, character) {
			return '_'
		}
		return character
	}, name)
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" {
		return defaultDownloadName
	}
	return sanitized
}

package feedback

import "strings"

// FormatProber answers whether the host can encode a given mime type.
type FormatProber interface {
	IsTypeSupported(mimeType string) bool
}

// NegotiateMimeType returns the first supported preference, or fallback when
// none is. Probing has no side effects.
func NegotiateMimeType(prober FormatProber, preferences []string, fallback string) string {
	if fallback == "" {
		fallback = DefaultFallbackMime
	}
	if prober == nil {
		return fallback
	}
	for _, candidate := range preferences {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if prober.IsTypeSupported(candidate) {
			return candidate
		}
	}
	return fallback
}

// BaseMimeType strips parameters: "audio/webm;codecs=opus" -> "audio/webm".
func BaseMimeType(mimeType string) string {
	base := strings.Split(mimeType, ";")[0]
	return strings.ToLower(strings.TrimSpace(base))
}

// ExtensionForMimeType returns the storage extension without a leading dot.
func ExtensionForMimeType(mimeType string) string {
	switch BaseMimeType(mimeType) {
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/ogg", "application/ogg":
		return "ogg"
	case "audio/mp4", "video/mp4", "audio/x-m4a", "audio/m4a":
		return "m4a"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	}
	return "bin"
}

// MimeTypeForExtension is the inverse used when a stored object lacks a
// content type.
func MimeTypeForExtension(ext string) string {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "webm":
		return "audio/webm"
	case "ogg":
		return "audio/ogg"
	case "m4a", "mp4":
		return "audio/mp4"
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	}
	return "application/octet-stream"
}

// KnownExtensions lists every extension a feedback clip may be stored under,
// following the order of preferences first.
func KnownExtensions(preferences []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(ext string) {
		if ext == "bin" || seen[ext] {
			return
		}
		seen[ext] = true
		out = append(out, ext)
	}
	for _, p := range preferences {
		add(ExtensionForMimeType(p))
	}
	for _, ext := range []string{"webm", "m4a", "ogg", "mp3", "wav"} {
		add(ext)
	}
	return out
}

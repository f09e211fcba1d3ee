package storage

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SafeKeySegment turns free text (a character name, a mode label) into one
// object key segment: accents stripped, letters and digits of any script
// kept, everything else collapsed to '_', at most max runes.
func SafeKeySegment(s string, max int) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	underscore := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if max > 0 {
		if r := []rune(out); len(r) > max {
			out = strings.TrimRight(string(r[:max]), "_")
		}
	}
	if out == "" {
		return "item"
	}
	return out
}

// ExtensionForMIME maps the content types the pipelines store.
func ExtensionForMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}

// VideoKey is the object key of a generated storyboard video.
func VideoKey(storyID, storyboardID, mode string, at time.Time) string {
	return fmt.Sprintf("generated/videos/%s/%s/%s_%d.mp4",
		orDefault(storyID, "story"),
		orDefault(storyboardID, "unknown"),
		SafeKeySegment("video_"+mode, 64),
		at.UnixMilli())
}

// ImageKey is the object key of one generated reference image.
func ImageKey(storyID, storyboardID string, index int, name, mime string, at time.Time) string {
	ext := ExtensionForMIME(mime)
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("generated/images/%s/%s/%02d_%s_%d%s",
		orDefault(storyID, "story"),
		orDefault(storyboardID, "story"),
		index+1,
		SafeKeySegment(name, 64),
		at.UnixMilli(),
		ext)
}

// ThumbnailKey is the object key of the JPEG thumbnail of a reference image.
func ThumbnailKey(storyID, storyboardID string, index int, name string, at time.Time) string {
	return fmt.Sprintf("generated/images/%s/%s/%02d_%s_%d_thumbnail.jpg",
		orDefault(storyID, "story"),
		orDefault(storyboardID, "story"),
		index+1,
		SafeKeySegment(name, 64),
		at.UnixMilli())
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return SafeKeySegment(s, 64)
}

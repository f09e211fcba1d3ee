package storage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestThumbnailScalesToWidth(t *testing.T) {
	out, err := Thumbnail(encodePNG(t, 600, 400), ThumbnailWidth)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("thumbnail is not a jpeg: %v", err)
	}
	if cfg.Width != 300 || cfg.Height != 200 {
		t.Fatalf("size = %dx%d, want 300x200", cfg.Width, cfg.Height)
	}
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	out, err := Thumbnail(encodePNG(t, 120, 80), ThumbnailWidth)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 120 || cfg.Height != 80 {
		t.Fatalf("size = %dx%d, want 120x80", cfg.Width, cfg.Height)
	}
}

func TestThumbnailRejectsNonImage(t *testing.T) {
	if _, err := Thumbnail([]byte("not an image"), ThumbnailWidth); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestThumbnailKey(t *testing.T) {
	got := ThumbnailKey("story-1", "", 0, "Hero", time.UnixMilli(42))
	if got != "generated/images/story-1/story/01_Hero_42_thumbnail.jpg" {
		t.Fatalf("key = %q", got)
	}
}

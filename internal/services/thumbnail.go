package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Thumbnail bounds.
const (
	ThumbnailMaxSide = 282
	ThumbnailQuality = 100
)

// MakeThumbnail decodes an image and re-encodes it as JPEG with the longest
// side capped at ThumbnailMaxSide. Smaller images keep their size.
func MakeThumbnail(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := thumbnailSize(b.Dx(), b.Dy())

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: ThumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func thumbnailSize(w, h int) (int, int) {
	if w <= ThumbnailMaxSide && h <= ThumbnailMaxSide {
		return w, h
	}
	if w >= h {
		return ThumbnailMaxSide, max(1, h*ThumbnailMaxSide/w)
	}
	return max(1, w*ThumbnailMaxSide/h), ThumbnailMaxSide
}

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/coverloop/api/internal/client"
)

const coverMaxBytes = client.MaxCoverBytes

// Long-side bounds tried in order, then qualities within each bound.
var (
	coverSides     = []int{640, 480, 320}
	coverQualities = []int{92, 85, 75, 65, 55, 45}
)

// fitCover re-encodes an image as a JPEG whose base64 upload body is no
// larger than limit bytes. Quality steps down first, then the image shrinks.
func fitCover(data []byte, limit int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}

	var buf bytes.Buffer
	for _, side := range coverSides {
		img := bound(src, side)
		for _, q := range coverQualities {
			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return nil, fmt.Errorf("encode cover: %w", err)
			}
			if client.CoverBodySize(buf.Len()) <= limit {
				return buf.Bytes(), nil
			}
		}
	}
	return nil, fmt.Errorf("cover does not fit in %d bytes (smallest body %d)", limit, client.CoverBodySize(buf.Len()))
}

// bound scales src down so neither side exceeds maxSide.
func bound(src image.Image, maxSide int) image.Image {
	b := src.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return src
	}
	w, h := maxSide, maxSide
	if b.Dx() > b.Dy() {
		h = b.Dy() * maxSide / b.Dx()
	} else if b.Dy() > b.Dx() {
		w = b.Dx() * maxSide / b.Dy()
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

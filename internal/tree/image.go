package tree

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
)

const (
	MaxImageEdge   = 800
	ImageQuality   = 70
	imageURLPrefix = "data:image/jpeg;base64,"
)

// EncodeImage decodes a PNG, JPEG or GIF upload, shrinks it so the longest
// edge is at most MaxImageEdge pixels, and returns it as a JPEG data URL.
func EncodeImage(r io.Reader) (string, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), MaxImageEdge)
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: ImageQuality}); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return imageURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeImage returns the JPEG bytes behind a data URL made by EncodeImage.
func DecodeImage(dataURL string) ([]byte, error) {
	if len(dataURL) < len(imageURLPrefix) || dataURL[:len(imageURLPrefix)] != imageURLPrefix {
		return nil, fmt.Errorf("%w: not a jpeg data url", ErrInvalidInput)
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[len(imageURLPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: image payload: %v", ErrInvalidInput, err)
	}
	return raw, nil
}

func fitWithin(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}
	if width >= height {
		return limit, max(1, height*limit/width)
	}
	return max(1, width*limit/height), limit
}

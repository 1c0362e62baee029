package converter

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultJPEGQuality is the quality every image is re-encoded at.
	DefaultJPEGQuality = 98
	defaultMaxPixels   = 100 * 1000 * 1000 // 100 megapixels
)

// ErrDecodeFailed reports image bytes that could not be decoded.
var ErrDecodeFailed = errors.New("image decode failed")

// ImageProcessor normalizes downloaded images into opaque JPEGs.
type ImageProcessor struct {
	// MaxWidth downsizes wider images with Lanczos resampling. Zero keeps
	// the original size.
	MaxWidth  int
	Quality   int
	MaxPixels int // Total pixel count limit for decode (width * height)
}

// NewImageProcessor creates a processor with the default quality.
func NewImageProcessor(maxWidth int) *ImageProcessor {
	if maxWidth < 0 {
		maxWidth = 0
	}
	return &ImageProcessor{
		MaxWidth:  maxWidth,
		Quality:   DefaultJPEGQuality,
		MaxPixels: defaultMaxPixels,
	}
}

// Normalize decodes data in any registered format (JPEG, PNG, GIF, BMP, TIFF,
// WebP), applies EXIF orientation, flattens alpha or palette images onto
// white and re-encodes the result as JPEG.
func (p *ImageProcessor) Normalize(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	pixels := uint64(cfg.Width) * uint64(cfg.Height)
	if p.MaxPixels > 0 && pixels > uint64(p.MaxPixels) {
		return nil, fmt.Errorf("%w: image too large to decode: %dx%d", ErrDecodeFailed, cfg.Width, cfg.Height)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	img := src
	if needsFlatten(src) {
		img = flatten(src)
	}
	if p.MaxWidth > 0 && img.Bounds().Dx() > p.MaxWidth {
		img = imaging.Resize(img, p.MaxWidth, 0, imaging.Lanczos)
	}

	quality := p.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// needsFlatten reports whether img uses a palette or carries transparency.
func needsFlatten(img image.Image) bool {
	if _, ok := img.(*image.Paletted); ok {
		return true
	}
	if _, ok := img.ColorModel().(color.Palette); ok {
		return true
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return hasAlpha(img)
}

// flatten composites img onto an opaque white canvas.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func hasAlpha(img image.Image) bool {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xFFFF {
				return true
			}
		}
	}
	return false
}

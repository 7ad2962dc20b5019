package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultSize is the edge length used for admin list thumbnails.
const DefaultSize = 160

// MaxPixels bounds the decoded size of an image (width × height).
const MaxPixels = 16_000_000

var (
	// ErrUndecodable is returned when the source is not a raster image imaging can read (SVG, ICO...).
	ErrUndecodable = errors.New("image cannot be decoded")
	// ErrTooLarge is returned for images whose dimensions exceed MaxPixels.
	ErrTooLarge = errors.New("image dimensions too large")
)

// CheckDimensions reads only the image header from r and rejects images over MaxPixels.
func CheckDimensions(r io.Reader) error {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	return nil
}

// Write decodes src, crops it to a size×size square and encodes it to w as JPEG.
// EXIF orientation is applied so phone photos are not shown sideways.
func Write(w io.Writer, src io.Reader, size int) error {
	if size <= 0 {
		size = DefaultSize
	}
	var head bytes.Buffer
	if err := CheckDimensions(io.TeeReader(src, &head)); err != nil {
		return err
	}
	img, err := imaging.Decode(io.MultiReader(&head, src), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	thumb := flatten(imaging.Thumbnail(img, size, size, imaging.Lanczos))
	if err := imaging.Encode(w, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return nil
}

// flatten puts transparent logos on a white background before JPEG encoding.
func flatten(img image.Image) image.Image {
	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), image.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

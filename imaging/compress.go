package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/apex/log"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

const (
	// MaxDimension is the largest width or height kept for an uploaded photo
	MaxDimension = 1024
	jpegQuality  = 85
)

// Orientation returns the EXIF orientation tag of data, or 1 when the image
// has no readable EXIF block.
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// orient maps a source pixel to its destination for the given EXIF
// orientation. swap reports whether width and height trade places.
func orient(orientation, x, y, w, h int) (dx, dy int, swap bool) {
	switch orientation {
	case 2:
		return w - 1 - x, y, false
	case 3:
		return w - 1 - x, h - 1 - y, false
	case 4:
		return x, h - 1 - y, false
	case 5:
		return y, x, true
	case 6:
		return h - 1 - y, x, true
	case 7:
		return h - 1 - y, w - 1 - x, true
	case 8:
		return y, w - 1 - x, true
	default:
		return x, y, false
	}
}

// ApplyOrientation returns img rotated or flipped so that it displays upright.
func ApplyOrientation(img image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	_, _, swap := orient(orientation, 0, 0, w, h)
	rect := image.Rect(0, 0, w, h)
	if swap {
		rect = image.Rect(0, 0, h, w)
	}

	out := image.NewRGBA(rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy, _ := orient(orientation, x, y, w, h)
			out.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// Compress fits a photo within MaxDimension on both sides and applies its
// EXIF orientation. The result is JPEG when reencoded is true; otherwise
// data is returned untouched because it already fits and is upright.
func Compress(data []byte) (out []byte, reencoded bool, err error) {
	orientation := Orientation(data)

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image: %w", err)
	}
	img = ApplyOrientation(img, orientation)

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= MaxDimension && height <= MaxDimension && orientation == 1 {
		return data, false, nil
	}

	newWidth, newHeight := fit(width, height, MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, false, fmt.Errorf("failed to encode compressed image: %w", err)
	}

	log.WithFields(log.Fields{
		"format":      format,
		"orientation": orientation,
		"from":        fmt.Sprintf("%dx%d", width, height),
		"to":          fmt.Sprintf("%dx%d", newWidth, newHeight),
		"bytes_in":    len(data),
		"bytes_out":   buf.Len(),
	}).Info("Image compressed")

	return buf.Bytes(), true, nil
}

// fit scales width and height down to at most limit, keeping the aspect ratio.
func fit(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}
	if width >= height {
		h := height * limit / width
		if h < 1 {
			h = 1
		}
		return limit, h
	}
	w := width * limit / height
	if w < 1 {
		w = 1
	}
	return w, limit
}

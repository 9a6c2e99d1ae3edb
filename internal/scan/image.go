package scan

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"strings"

	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	maxImageDimension = 2048
	jpegQuality       = 85

	// StoredMIMEType is the mime type of every normalized image
	StoredMIMEType = "image/jpeg"
)

var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// normalizeMIMEType lowercases the type and strips parameters
func normalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}

// AllowedMIMEType reports whether uploads of this type are accepted
func AllowedMIMEType(mimeType string) bool {
	return allowedMIMETypes[normalizeMIMEType(mimeType)]
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand. Phones
// regularly upload HEIC bytes under a JPEG content type.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func decodeImage(data []byte) (image.Image, error) {
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// fitWithin returns the size of a w x h box scaled down to fit limit x limit,
// preserving the aspect ratio. Boxes already inside are unchanged.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

// normalizeImage decodes an upload, downscales it to fit the maximum
// dimension and re-encodes it as JPEG
func normalizeImage(data []byte) ([]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFileType, err)
	}

	bounds := img.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), maxImageDimension)
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

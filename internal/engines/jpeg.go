package engines

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// EncodeJPEG renders img as a JPEG byte slice, the wire format spec §4.8
// requires for every frame shown to the VLM or judge model.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("engines: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

package diff

import (
	"hash/fnv"
	"image"
	"image/draw"

	ximage "golang.org/x/image/draw"
)

// hashSize is the side length of the grayscale thumbnail a hash is
// computed from, so hashing costs the same at any screen resolution.
const hashSize = 64

// toGray converts an arbitrary image.Image to a *image.Gray with a plain
// draw (no resampling), so downstream comparisons are stable across color
// models.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

// resizeGray resamples g to exactly w x h using a Catmull-Rom filter,
// matching C1's "high-quality resampling filter" requirement.
func resizeGray(g *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	ximage.CatmullRom.Scale(dst, dst.Bounds(), g, g.Bounds(), ximage.Over, nil)
	return dst
}

// ComputeHash returns a 64-bit FNV-1a fingerprint of a 64x64 grayscale
// rendition of img. Equal hashes mean near-certain visual equality;
// unequal hashes carry no further semantic guarantee (invariant 4).
func ComputeHash(img image.Image) uint64 {
	thumb := resizeGray(toGray(img), hashSize, hashSize)
	h := fnv.New64a()
	h.Write(thumb.Pix)
	return h.Sum64()
}

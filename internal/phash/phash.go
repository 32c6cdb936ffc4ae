// Package phash computes 64-bit DCT perceptual hashes of cover images.
//
// The hash keeps the top-left 8x8 block of the 2D DCT-II of a 32x32
// grayscale thumbnail. Bit i (i = row*8 + col) is set when that coefficient
// is at or above the median of the 63 AC coefficients. The DC coefficient
// never contributes, so bit 0 is always zero.
package phash

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"math/bits"
	"sort"
	"strconv"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MatchThreshold is the largest Hamming distance at which two hashes
	// are considered the same cover.
	MatchThreshold = 10

	sampleSize = 32
	blockSize  = 8
)

var ErrInvalidHash = errors.New("invalid perceptual hash")

// Hash is a 64-bit perceptual fingerprint.
type Hash uint64

// String formats the hash as 16 lowercase hex characters.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Parse reads a hash produced by Hash.String.
func Parse(s string) (Hash, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return Hash(v), nil
}

// Distance counts the bits that differ between a and b.
func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Match reports whether a and b are within MatchThreshold.
func Match(a, b Hash) bool {
	return Distance(a, b) <= MatchThreshold
}

// Compute decodes an image (JPEG, PNG, GIF or WebP) and hashes it.
func Compute(r io.Reader) (Hash, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), nil
}

// ComputeBytes hashes encoded image bytes.
func ComputeBytes(data []byte) (Hash, error) {
	return Compute(bytes.NewReader(data))
}

// FromImage hashes an already decoded image.
func FromImage(img image.Image) Hash {
	thumb := image.NewRGBA(image.Rect(0, 0, sampleSize, sampleSize))
	draw.BiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

	var pixels [sampleSize][sampleSize]float64
	for y := 0; y < sampleSize; y++ {
		for x := 0; x < sampleSize; x++ {
			off := thumb.PixOffset(x, y)
			p := thumb.Pix[off : off+3 : off+3]
			pixels[y][x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}

	coeffs := dctBlock(&pixels)

	ac := make([]float64, 0, blockSize*blockSize-1)
	for i := 1; i < blockSize*blockSize; i++ {
		ac = append(ac, coeffs[i])
	}
	sort.Float64s(ac)
	median := ac[len(ac)/2]

	var h uint64
	for i := 1; i < blockSize*blockSize; i++ {
		if coeffs[i] >= median {
			h |= 1 << uint(i)
		}
	}
	return Hash(h)
}

var cosTable = func() [blockSize][sampleSize]float64 {
	var t [blockSize][sampleSize]float64
	for k := 0; k < blockSize; k++ {
		for n := 0; n < sampleSize; n++ {
			t[k][n] = math.Cos(math.Pi * float64(2*n+1) * float64(k) / (2 * sampleSize))
		}
	}
	return t
}()

// dctBlock returns the low-frequency 8x8 corner of the orthonormal 2D DCT-II,
// flattened row-major.
func dctBlock(pixels *[sampleSize][sampleSize]float64) [blockSize * blockSize]float64 {
	// rows first: rowPass[y][v] = sum_x f(y,x) cos(v, x)
	var rowPass [sampleSize][blockSize]float64
	for y := 0; y < sampleSize; y++ {
		for v := 0; v < blockSize; v++ {
			var sum float64
			for x := 0; x < sampleSize; x++ {
				sum += pixels[y][x] * cosTable[v][x]
			}
			rowPass[y][v] = sum
		}
	}

	var out [blockSize * blockSize]float64
	for u := 0; u < blockSize; u++ {
		for v := 0; v < blockSize; v++ {
			var sum float64
			for y := 0; y < sampleSize; y++ {
				sum += rowPass[y][v] * cosTable[u][y]
			}
			out[u*blockSize+v] = sum * scale(u) * scale(v)
		}
	}
	return out
}

func scale(k int) float64 {
	if k == 0 {
		return math.Sqrt(1.0 / sampleSize)
	}
	return math.Sqrt(2.0 / sampleSize)
}

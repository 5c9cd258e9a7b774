package redact

import (
	"image"
	"math"
	"sync"

	"github.com/andresmejia3/veil/internal/types"
)

// rowBufferPool recycles the float scratch used between the two blur passes.
var rowBufferPool = sync.Pool{
	New: func() interface{} { return make([]float32, 0, 256*256*3) },
}

// GaussianBlur smooths a region with a k×k Gaussian kernel, where k is
// strength normalized to a positive odd integer. The result has the same
// dimensions as region and never samples outside it.
func GaussianBlur(region *image.NRGBA, strength int) *image.NRGBA {
	k := types.NormalizeKernel(strength)
	b := region.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	kernel := gaussianKernel(k)
	radius := k / 2

	needed := w * h * 3
	buf := rowBufferPool.Get().([]float32)
	if cap(buf) < needed {
		buf = make([]float32, needed)
	}
	tmp := buf[:needed]
	defer rowBufferPool.Put(buf)

	// Horizontal pass: region -> tmp
	for y := 0; y < h; y++ {
		rowOff := region.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			var rs, gs, bs float32
			for i, kv := range kernel {
				off := rowOff + reflect101(x+i-radius, w)*4
				rs += kv * float32(region.Pix[off])
				gs += kv * float32(region.Pix[off+1])
				bs += kv * float32(region.Pix[off+2])
			}
			t := (y*w + x) * 3
			tmp[t] = rs
			tmp[t+1] = gs
			tmp[t+2] = bs
		}
	}

	// Vertical pass: tmp -> dst
	for y := 0; y < h; y++ {
		srcOff := region.PixOffset(b.Min.X, b.Min.Y+y)
		dstOff := y * dst.Stride
		for x := 0; x < w; x++ {
			var rs, gs, bs float32
			for i, kv := range kernel {
				t := (reflect101(y+i-radius, h)*w + x) * 3
				rs += kv * tmp[t]
				gs += kv * tmp[t+1]
				bs += kv * tmp[t+2]
			}
			d := dstOff + x*4
			dst.Pix[d] = toUint8(rs)
			dst.Pix[d+1] = toUint8(gs)
			dst.Pix[d+2] = toUint8(bs)
			dst.Pix[d+3] = region.Pix[srcOff+x*4+3]
		}
	}
	return dst
}

// gaussianKernel builds a normalized 1D kernel of odd size k. Sigma follows
// OpenCV's rule for an unspecified sigma.
func gaussianKernel(k int) []float32 {
	sigma := 0.3*((float64(k)-1)*0.5-1) + 0.8
	radius := k / 2
	weights := make([]float64, k)
	var sum float64
	for i := range weights {
		x := float64(i - radius)
		weights[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += weights[i]
	}
	kernel := make([]float32, k)
	for i, wv := range weights {
		kernel[i] = float32(wv / sum)
	}
	return kernel
}

// reflect101 mirrors an out-of-range index back into [0, n) without
// repeating the edge sample (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func toUint8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

package thumbnail

import (
	"image"

	"golang.org/x/image/draw"
)

// SampleSize 返回 2 的幂次采样率：只要减半后的长边仍不小于 maxEdge 就继续翻倍。
func SampleSize(width, height, maxEdge int) int {
	if width <= 0 || height <= 0 || maxEdge <= 0 {
		return 1
	}
	long := max(width, height)
	sample := 1
	for long/(sample*2) >= maxEdge {
		sample *= 2
	}
	return sample
}

// Scale 将 src 的长边限制在 maxEdge 以内：先按 SampleSize 逐级 2 倍抽取，
// 再用 Catmull-Rom 精确缩放到目标尺寸。结果铺在白底上，透明区域不会变黑。
func Scale(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	current := src
	for sample := SampleSize(w, h, maxEdge); sample > 1; sample /= 2 {
		current = halve(current)
	}

	cb := current.Bounds()
	tw, th := fitWithin(cb.Dx(), cb.Dy(), maxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), current, cb, draw.Over, nil)
	return dst
}

func halve(src image.Image) image.Image {
	b := src.Bounds()
	w, h := max(b.Dx()/2, 1), max(b.Dy()/2, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// fitWithin 等比缩放 (w, h)，使长边不超过 maxEdge；已满足时原样返回。
func fitWithin(w, h, maxEdge int) (int, int) {
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return max(w, 1), max(h, 1)
	}
	if w >= h {
		return maxEdge, max(h*maxEdge/w, 1)
	}
	return max(w*maxEdge/h, 1), maxEdge
}

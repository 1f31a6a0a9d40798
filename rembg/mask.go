package rembg

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
)

// toNRGBA 转为 NRGBA，方便统一处理
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// resizeWithinMax 缩放（最长边 <= maxSize），maxSize <= 0 时不处理
func resizeWithinMax(img image.Image, maxSize int) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if maxSize <= 0 || longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	return resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
}

// resizeGray 双线性缩放掩码
func resizeGray(src *image.Gray, w, h int) *image.Gray {
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func grayFrom(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// morph 3x3 十字结构元素的灰度腐蚀/膨胀
func morph(src *image.Gray, dilate bool) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	offsets := [5][2]int{{0, 0}, {-1, 0}, {1, 0}, {0, -1}, {0, 1}}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := src.Pix[y*src.Stride+x]
			for _, o := range offsets[1:] {
				nx, ny := x+o[0], y+o[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := src.Pix[ny*src.Stride+nx]
				if dilate && n > v || !dilate && n < v {
					v = n
				}
			}
			dst.Pix[y*dst.Stride+x] = v
		}
	}
	return dst
}

// postProcessMask 开运算去噪点，高斯模糊 (sigma 2) 平滑边缘，再以 127 二值化
func postProcessMask(mask *image.Gray) *image.Gray {
	opened := morph(morph(mask, false), true)
	blurred := grayFrom(imaging.Blur(opened, 2))

	for i, v := range blurred.Pix {
		if v < 127 {
			blurred.Pix[i] = 0
		} else {
			blurred.Pix[i] = 255
		}
	}
	return blurred
}

// erode 二值腐蚀，size×size 方形结构元素；border 为越界像素的取值
func erode(in []bool, w, h, size int, border bool) []bool {
	if size <= 0 {
		return in
	}
	lo := size / 2
	hi := size - 1 - lo

	// 先水平后垂直，窗口内全部为 true 才保留
	horiz := make([]bool, len(in))
	for y := 0; y < h; y++ {
		prefix := make([]int, w+1)
		for x := 0; x < w; x++ {
			prefix[x+1] = prefix[x]
			if in[y*w+x] {
				prefix[x+1]++
			}
		}
		for x := 0; x < w; x++ {
			horiz[y*w+x] = windowAll(prefix, x-lo, x+hi, w, border)
		}
	}

	out := make([]bool, len(in))
	prefix := make([]int, h+1)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			prefix[y+1] = prefix[y]
			if horiz[y*w+x] {
				prefix[y+1]++
			}
		}
		for y := 0; y < h; y++ {
			out[y*w+x] = windowAll(prefix, y-lo, y+hi, h, border)
		}
	}
	return out
}

func windowAll(prefix []int, from, to, n int, border bool) bool {
	if (from < 0 || to >= n) && !border {
		return false
	}
	from = max(from, 0)
	to = min(to, n-1)
	return prefix[to+1]-prefix[from] == to-from+1
}

// trimap 255 为确定前景，0 为确定背景，128 为未知区域
func trimap(mask *image.Gray, fgThreshold, bgThreshold, erodeSize int) *image.Gray {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	fg := make([]bool, w*h)
	bg := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int(mask.Pix[y*mask.Stride+x])
			fg[y*w+x] = v > fgThreshold
			bg[y*w+x] = v < bgThreshold
		}
	}
	fg = erode(fg, w, h, erodeSize, false)
	bg = erode(bg, w, h, erodeSize, true)

	tri := image.NewGray(image.Rect(0, 0, w, h))
	for i := range tri.Pix {
		switch {
		case fg[i]:
			tri.Pix[i] = 255
		case bg[i]:
			tri.Pix[i] = 0
		default:
			tri.Pix[i] = 128
		}
	}
	return tri
}

// mattedAlpha 由 trimap 得到 alpha：确定区域取 0/255，未知区域取平滑后的掩码值
func mattedAlpha(mask *image.Gray, o Options) *image.Gray {
	tri := trimap(mask, o.ForegroundThreshold, o.BackgroundThreshold, o.ErodeSize)
	smooth := grayFrom(imaging.Blur(mask, 1))

	alpha := image.NewGray(tri.Bounds())
	for i, t := range tri.Pix {
		switch t {
		case 255, 0:
			alpha.Pix[i] = t
		default:
			alpha.Pix[i] = smooth.Pix[i]
		}
	}
	return alpha
}

// cutout 以 alpha 作为透明通道输出 NRGBA
func cutout(img image.Image, alpha *image.Gray) *image.NRGBA {
	src := toNRGBA(img)
	dst := image.NewNRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)

	for y := 0; y < dst.Rect.Dy(); y++ {
		for x := 0; x < dst.Rect.Dx(); x++ {
			a := alpha.GrayAt(x, y).Y
			i := dst.PixOffset(x, y)
			if a == 0 {
				dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = 0, 0, 0
			}
			dst.Pix[i+3] = uint8(uint16(dst.Pix[i+3]) * uint16(a) / 255)
		}
	}
	return dst
}

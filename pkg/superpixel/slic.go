// Package superpixel segments rendered composites into superpixels, either
// with SLIC clustering or with Felzenszwalb's graph method.
package superpixel

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/lucasb-eyer/go-colorful"
	"k8s.io/klog/v2"
)

// Options control SLIC.
type Options struct {
	// Segments is the approximate number of superpixels.
	Segments int
	// Compactness trades color similarity for spatial regularity. Higher
	// values give squarer segments.
	Compactness float64
	// Sigma is the radius of the Gaussian pre-blur; 0 disables it.
	Sigma      float64
	Iterations int
}

func DefaultOptions() Options {
	return Options{
		Segments:    400,
		Compactness: 10,
		Sigma:       1,
		Iterations:  10,
	}
}

type center struct{ l, a, b, cx, cy float64 }

// SLIC labels every pixel of img with a superpixel. Labels are 0-based and
// contiguous, and every label is one 4-connected region.
func SLIC(img image.Image, opt Options) *Segments {
	if opt.Segments <= 0 {
		opt.Segments = 1
	}
	if opt.Compactness <= 0 {
		opt.Compactness = DefaultOptions().Compactness
	}
	if opt.Iterations <= 0 {
		opt.Iterations = DefaultOptions().Iterations
	}
	if opt.Sigma > 0 {
		img = blur.Gaussian(img, opt.Sigma)
	}

	lab, w, h := toLab(img)
	if w == 0 || h == 0 {
		return &Segments{W: w, H: h}
	}

	step := max(int(math.Sqrt(float64(w*h)/float64(opt.Segments))), 1)
	centers := seed(lab, w, h, step)
	clusters := assign(lab, w, h, step, centers, opt)
	labels, n := connect(clusters, w, h, len(centers))

	klog.V(1).Infof("slic: %dx%d, step %d, %d seeds, %d segments", w, h, step, len(centers), n)
	return &Segments{W: w, H: h, Labels: labels, n: n}
}

func toLab(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	lab := make([]float64, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			c := colorful.Color{R: float64(r) / 0xffff, G: float64(g) / 0xffff, B: float64(bl) / 0xffff}
			off := (y*w + x) * 3
			lab[off], lab[off+1], lab[off+2] = c.Lab()
		}
	}
	// go-colorful scales Lab by 1/100.
	for i := range lab {
		lab[i] *= 100
	}
	return lab, w, h
}

// seed places a center on a regular grid, moved to the lowest gradient in
// its 3x3 neighbourhood.
func seed(lab []float64, w, h, step int) []center {
	var centers []center
	for cy := step / 2; cy < h; cy += step {
		for cx := step / 2; cx < w; cx += step {
			minGrad := math.MaxFloat64
			lx, ly := cx, cy
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := cx+dx, cy+dy
					if nx < 0 || nx >= w-1 || ny < 0 || ny >= h-1 {
						continue
					}
					here := lab[(ny*w+nx)*3]
					grad := math.Abs(lab[((ny+1)*w+nx)*3]-here) + math.Abs(lab[(ny*w+nx+1)*3]-here)
					if grad < minGrad {
						minGrad = grad
						lx, ly = nx, ny
					}
				}
			}
			off := (ly*w + lx) * 3
			centers = append(centers, center{lab[off], lab[off+1], lab[off+2], float64(lx), float64(ly)})
		}
	}
	return centers
}

// assign runs the k-means iterations and returns the cluster of each pixel.
func assign(lab []float64, w, h, step int, centers []center, opt Options) []int {
	clusters := make([]int, w*h)
	distances := make([]float64, w*h)
	for i := range clusters {
		clusters[i] = -1
	}
	ns := float64(step)
	nc := opt.Compactness

	type acc struct {
		l, a, b, sx, sy float64
		n               int
	}
	for it := 0; it < opt.Iterations; it++ {
		for i := range distances {
			distances[i] = math.MaxFloat64
		}
		for ci, c := range centers {
			x0, x1 := max(int(c.cx)-step, 0), min(int(c.cx)+step+1, w)
			y0, y1 := max(int(c.cy)-step, 0), min(int(c.cy)+step+1, h)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					i := y*w + x
					dL := lab[i*3] - c.l
					dA := lab[i*3+1] - c.a
					dB := lab[i*3+2] - c.b
					dx := float64(x) - c.cx
					dy := float64(y) - c.cy
					dc := math.Sqrt(dL*dL + dA*dA + dB*dB)
					ds := math.Sqrt(dx*dx + dy*dy)
					d := (dc/nc)*(dc/nc) + (ds/ns)*(ds/ns)
					if d < distances[i] {
						distances[i] = d
						clusters[i] = ci
					}
				}
			}
		}

		sums := make([]acc, len(centers))
		for i, ci := range clusters {
			if ci < 0 {
				continue
			}
			sums[ci].l += lab[i*3]
			sums[ci].a += lab[i*3+1]
			sums[ci].b += lab[i*3+2]
			sums[ci].sx += float64(i % w)
			sums[ci].sy += float64(i / w)
			sums[ci].n++
		}
		for ci, s := range sums {
			if s.n > 0 {
				n := float64(s.n)
				centers[ci] = center{s.l / n, s.a / n, s.b / n, s.sx / n, s.sy / n}
			}
		}
	}
	return clusters
}

// connect relabels clusters into 4-connected regions, folding regions
// smaller than a quarter of the expected size into a neighbour.
func connect(clusters []int, w, h, seeds int) ([]int, int) {
	minSize := max(w*h/max(seeds, 1), 1) >> 2
	dx4 := []int{-1, 0, 1, 0}
	dy4 := []int{0, -1, 0, 1}

	labels := make([]int, w*h)
	for i := range labels {
		labels[i] = -1
	}

	label := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			start := y*w + x
			if labels[start] != -1 {
				continue
			}

			adj := -1
			for k := 0; k < 4; k++ {
				nx, ny := x+dx4[k], y+dy4[k]
				if nx >= 0 && nx < w && ny >= 0 && ny < h && labels[ny*w+nx] >= 0 {
					adj = labels[ny*w+nx]
					break
				}
			}

			elems := []int{start}
			labels[start] = label
			for c := 0; c < len(elems); c++ {
				cur := elems[c]
				cx, cy := cur%w, cur/w
				for k := 0; k < 4; k++ {
					nx, ny := cx+dx4[k], cy+dy4[k]
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					ni := ny*w + nx
					if labels[ni] == -1 && clusters[ni] == clusters[cur] {
						labels[ni] = label
						elems = append(elems, ni)
					}
				}
			}

			if adj >= 0 && len(elems) <= minSize {
				for _, e := range elems {
					labels[e] = adj
				}
				continue
			}
			label++
		}
	}
	return labels, label
}

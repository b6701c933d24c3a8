package superpixel

import (
	"image"
	"math"
	"slices"

	"github.com/anthonynsimon/bild/blur"
	"k8s.io/klog/v2"
)

// GraphOptions control Felzenszwalb segmentation.
type GraphOptions struct {
	// Scale sets the merge threshold. Higher values give larger segments.
	Scale float64
	// Sigma is the radius of the Gaussian pre-blur; 0 disables it.
	Sigma float64
	// MinSize is the smallest segment kept after merging, in pixels.
	MinSize int
}

func DefaultGraphOptions() GraphOptions {
	return GraphOptions{Scale: 100, Sigma: 0.5, MinSize: 50}
}

type edge struct {
	a, b int
	w    float64
}

// forest is a union-find over pixels that tracks component sizes and the
// largest internal edge weight seen by each component.
type forest struct {
	parent   []int
	size     []int
	internal []float64
}

func newForest(n int) *forest {
	f := &forest{parent: make([]int, n), size: make([]int, n), internal: make([]float64, n)}
	for i := range f.parent {
		f.parent[i] = i
		f.size[i] = 1
	}
	return f
}

func (f *forest) find(i int) int {
	for f.parent[i] != i {
		f.parent[i] = f.parent[f.parent[i]]
		i = f.parent[i]
	}
	return i
}

func (f *forest) union(a, b int, w float64) int {
	if f.size[a] < f.size[b] {
		a, b = b, a
	}
	f.parent[b] = a
	f.size[a] += f.size[b]
	f.internal[a] = w
	return a
}

// Felzenszwalb labels every pixel of img by merging 4-connected neighbours
// in order of Lab color distance, while the distance stays below each
// side's internal difference plus Scale over its size. Segments smaller
// than MinSize are then folded into their closest neighbour. Labels are
// 0-based, contiguous and in raster order.
func Felzenszwalb(img image.Image, opt GraphOptions) *Segments {
	if opt.Scale <= 0 {
		opt.Scale = DefaultGraphOptions().Scale
	}
	if opt.MinSize < 1 {
		opt.MinSize = 1
	}
	if opt.Sigma > 0 {
		img = blur.Gaussian(img, opt.Sigma)
	}

	lab, w, h := toLab(img)
	if w == 0 || h == 0 {
		return &Segments{W: w, H: h}
	}

	edges := make([]edge, 0, 2*w*h)
	dist := func(a, b int) float64 {
		dL := lab[a*3] - lab[b*3]
		dA := lab[a*3+1] - lab[b*3+1]
		dB := lab[a*3+2] - lab[b*3+2]
		return math.Sqrt(dL*dL + dA*dA + dB*dB)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if x+1 < w {
				edges = append(edges, edge{i, i + 1, dist(i, i+1)})
			}
			if y+1 < h {
				edges = append(edges, edge{i, i + w, dist(i, i+w)})
			}
		}
	}
	slices.SortStableFunc(edges, func(p, q edge) int {
		switch {
		case p.w < q.w:
			return -1
		case p.w > q.w:
			return 1
		}
		return 0
	})

	f := newForest(w * h)
	threshold := func(c int) float64 {
		return f.internal[c] + opt.Scale/float64(f.size[c])
	}
	for _, e := range edges {
		a, b := f.find(e.a), f.find(e.b)
		if a != b && e.w <= threshold(a) && e.w <= threshold(b) {
			f.union(a, b, e.w)
		}
	}
	for _, e := range edges {
		a, b := f.find(e.a), f.find(e.b)
		if a != b && (f.size[a] < opt.MinSize || f.size[b] < opt.MinSize) {
			f.union(a, b, max(f.internal[a], f.internal[b]))
		}
	}

	labels := make([]int, w*h)
	ids := map[int]int{}
	for i := range labels {
		root := f.find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}

	klog.V(1).Infof("felzenszwalb: %dx%d, scale %.1f, %d segments", w, h, opt.Scale, len(ids))
	return &Segments{W: w, H: h, Labels: labels, n: len(ids)}
}

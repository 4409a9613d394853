package imaging

import "math"

var tan22_5 = math.Tan(math.Pi / 8)

// cannyEdges returns a mask of edge pixels using an L1 gradient magnitude,
// non-maximum suppression and hysteresis between low and high.
func cannyEdges(p *plane, low, high float64) []bool {
	w, h := p.w, p.h
	edges := make([]bool, w*h)
	if w < 3 || h < 3 {
		return edges
	}

	gx, gy := sobel(p)
	mag := make([]float64, w*h)
	for i := range mag {
		mag[i] = math.Abs(gx.pix[i]) + math.Abs(gy.pix[i])
	}

	// 0 = suppressed, 1 = weak candidate, 2 = strong
	state := make([]uint8, w*h)
	var stack []int

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}

			ax, ay := math.Abs(gx.pix[i]), math.Abs(gy.pix[i])
			var n1, n2 float64
			switch {
			case ay <= ax*tan22_5:
				// horizontal gradient: compare left and right
				n1, n2 = mag[i-1], mag[i+1]
			case ay >= ax/tan22_5:
				n1, n2 = mag[i-w], mag[i+w]
			default:
				if (gx.pix[i] > 0) == (gy.pix[i] > 0) {
					n1, n2 = mag[i-w-1], mag[i+w+1]
				} else {
					n1, n2 = mag[i-w+1], mag[i+w-1]
				}
			}
			if m <= n1 || m < n2 {
				continue
			}

			if m > high {
				state[i] = 2
				stack = append(stack, i)
			} else {
				state[i] = 1
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if edges[i] {
			continue
		}
		edges[i] = true

		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] > 0 && !edges[j] {
					stack = append(stack, j)
				}
			}
		}
	}
	return edges
}

package gen

// Simplex noise after Ken Perlin's algorithm, 2D only.
// Produces values in the range [-1, 1].

var grad2 = [8][2]float64{
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
}

// Simplex produces deterministic 2D simplex noise from a seed.
type Simplex struct {
	perm [512]int
}

// NewSimplex creates a noise source with a seeded permutation table.
func NewSimplex(seed int64) *Simplex {
	n := &Simplex{}

	var p [256]int
	for i := range p {
		p[i] = i
	}

	// Fisher-Yates driven by a 64-bit LCG.
	s := seed
	for i := 255; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int((s>>33)&0x7FFFFFFF) % (i + 1)
		p[i], p[j] = p[j], p[i]
	}

	for i := range n.perm {
		n.perm[i] = p[i&255]
	}
	return n
}

// At returns the noise value at (x, y).
func (n *Simplex) At(x, y float64) float64 {
	const (
		f2 = 0.36602540378443864676 // (sqrt(3) - 1) / 2
		g2 = 0.21132486540518711775 // (3 - sqrt(3)) / 6
	)

	s := (x + y) * f2
	i := floor(x + s)
	j := floor(y + s)

	t := float64(i+j) * g2
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)

	i1, j1 := 0, 1
	if x0 > y0 {
		i1, j1 = 1, 0
	}

	x1 := x0 - float64(i1) + g2
	y1 := y0 - float64(j1) + g2
	x2 := x0 - 1.0 + 2.0*g2
	y2 := y0 - 1.0 + 2.0*g2

	ii := i & 255
	jj := j & 255

	sum := corner(x0, y0, n.perm[ii+n.perm[jj]]) +
		corner(x1, y1, n.perm[ii+i1+n.perm[jj+j1]]) +
		corner(x2, y2, n.perm[ii+1+n.perm[jj+1]])
	return 70.0 * sum
}

// Octaves sums several frequencies of noise, each at half the previous
// amplitude scaled by persistence. The result stays in [-1, 1].
func (n *Simplex) Octaves(x, y float64, octaves int, persistence float64) float64 {
	var total, norm float64
	freq, amp := 1.0, 1.0
	for range octaves {
		total += n.At(x*freq, y*freq) * amp
		norm += amp
		amp *= persistence
		freq *= 2.0
	}
	return total / norm
}

func corner(x, y float64, hash int) float64 {
	t := 0.5 - x*x - y*y
	if t < 0 {
		return 0
	}
	g := grad2[hash&7]
	t *= t
	return t * t * (g[0]*x + g[1]*y)
}

func floor(x float64) int {
	xi := int(x)
	if x < float64(xi) {
		return xi - 1
	}
	return xi
}

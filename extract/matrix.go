package extract

// matrix is a PDF transformation matrix [a b c d e f] mapping user space to
// device space.
type matrix struct {
	A, B, C, D, E, F float64
}

var identity = matrix{A: 1, D: 1}

// mul returns m × n (m applied first).
func (m matrix) mul(n matrix) matrix {
	return matrix{
		A: m.A*n.A + m.B*n.C,
		B: m.A*n.B + m.B*n.D,
		C: m.C*n.A + m.D*n.C,
		D: m.C*n.B + m.D*n.D,
		E: m.E*n.A + m.F*n.C + n.E,
		F: m.E*n.B + m.F*n.D + n.F,
	}
}

// apply transforms the point (x, y).
func (m matrix) apply(x, y float64) (float64, float64) {
	return m.A*x + m.C*y + m.E, m.B*x + m.D*y + m.F
}

// scaleY reports the vertical scale factor, used to size baselines.
func (m matrix) scaleY() float64 {
	s := m.D
	if s < 0 {
		s = -s
	}
	if s == 0 {
		s = 1
	}
	return s
}

func translate(tx, ty float64) matrix {
	return matrix{A: 1, D: 1, E: tx, F: ty}
}

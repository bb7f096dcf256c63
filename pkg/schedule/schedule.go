package schedule

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Point is one control point: the value Y that the schedule reaches when
// the key variable equals X.
type Point struct {
	X float64
	Y float64
}

// Interp selects how values between two control points are computed.
type Interp int

const (
	// InterpLinear interpolates on a straight line between the points.
	InterpLinear Interp = iota
	// InterpCos eases between the points on a half cosine wave.
	InterpCos
)

// Schedule is a piecewise function of a single key variable, usually the
// step counter in runtime state. Control points are ordered by X; the
// value is clamped to the first and last Y outside their range.
type Schedule struct {
	// Key names the state field the schedule is driven by.
	Key    string
	Points []Point
	// interp[i] is the method for the segment ending at Points[i+1].
	interp []Interp
	source string
}

// Parse reads the schedule grammar "key: y0@x0 [method] y1@x1 ...". The
// original text is retained so a rewritten record file carries the
// schedule, not the value it happened to evaluate to.
func Parse(raw string) (*Schedule, error) {
	key, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, fmt.Errorf("schedule %q: missing \"key:\" prefix", raw)
	}
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, " \t") {
		return nil, fmt.Errorf("schedule %q: malformed key", raw)
	}

	s := &Schedule{Key: key, source: raw}
	pending := InterpLinear
	for _, tok := range strings.Fields(rest) {
		switch tok {
		case "lin":
			pending = InterpLinear
			continue
		case "cos":
			pending = InterpCos
			continue
		}
		p, err := parsePoint(tok)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", raw, err)
		}
		if n := len(s.Points); n > 0 {
			if p.X <= s.Points[n-1].X {
				return nil, fmt.Errorf("schedule %q: control points must have increasing positions", raw)
			}
			s.interp = append(s.interp, pending)
		}
		s.Points = append(s.Points, p)
		pending = InterpLinear
	}
	if len(s.Points) == 0 {
		return nil, fmt.Errorf("schedule %q: no control points", raw)
	}
	return s, nil
}

func parsePoint(tok string) (Point, error) {
	ys, xs, ok := strings.Cut(tok, "@")
	if !ok {
		return Point{}, fmt.Errorf("control point %q: expected value@position", tok)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return Point{}, fmt.Errorf("control point %q: bad value: %w", tok, err)
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return Point{}, fmt.Errorf("control point %q: bad position: %w", tok, err)
	}
	return Point{X: x, Y: y}, nil
}

// At evaluates the schedule at position x, clamping outside the control
// points and interpolating between them.
func (s *Schedule) At(x float64) float64 {
	pts := s.Points
	if x <= pts[0].X {
		return pts[0].Y
	}
	if x >= pts[len(pts)-1].X {
		return pts[len(pts)-1].Y
	}
	// First point strictly past x; the segment is (i-1, i).
	i := sort.Search(len(pts), func(i int) bool { return pts[i].X > x })
	p0, p1 := pts[i-1], pts[i]
	t := (x - p0.X) / (p1.X - p0.X)
	if s.interp[i-1] == InterpCos {
		t = (1 - math.Cos(math.Pi*t)) / 2
	}
	return p0.Y + (p1.Y-p0.Y)*t
}

// Source returns the schedule exactly as written.
func (s *Schedule) Source() string { return s.source }

func (s *Schedule) String() string { return s.source }

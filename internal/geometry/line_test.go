package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrosses(t *testing.T) {
	t.Parallel()

	horizontal := Line{Start: Pt(0, 180), End: Pt(640, 180)}
	diagonal := Line{Start: Pt(0, 0), End: Pt(10, 10)}

	tests := []struct {
		name string
		line Line
		prev Point
		cur  Point
		want bool
	}{
		{"downward through horizontal", horizontal, Pt(100, 170), Pt(100, 190), true},
		{"upward through horizontal", horizontal, Pt(100, 190), Pt(100, 170), true},
		{"same side above", horizontal, Pt(100, 100), Pt(300, 170), false},
		{"same side below", horizontal, Pt(100, 200), Pt(50, 359), false},
		{"previous on the line", horizontal, Pt(100, 180), Pt(100, 190), false},
		{"current on the line", horizontal, Pt(100, 170), Pt(100, 180), false},
		{"both on the line", horizontal, Pt(10, 180), Pt(600, 180), false},
		{"stationary point", horizontal, Pt(100, 170), Pt(100, 170), false},
		{"across diagonal", diagonal, Pt(0, 5), Pt(5, 0), true},
		{"along diagonal", diagonal, Pt(2, 2), Pt(8, 8), false},
		{"beyond segment still counts", horizontal, Pt(900, 170), Pt(900, 190), true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Crosses(tt.line, tt.prev, tt.cur))
			assert.Equal(t, tt.want, Crosses(tt.line, tt.cur, tt.prev), "must be symmetric")

			d1 := Determinant(tt.line, tt.prev)
			d2 := Determinant(tt.line, tt.cur)
			assert.Equal(t, (d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0), tt.want)
		})
	}
}

func TestDeterminantSign(t *testing.T) {
	t.Parallel()

	l := Line{Start: Pt(0, 180), End: Pt(640, 180)}

	assert.Positive(t, Determinant(l, Pt(100, 170)))
	assert.Negative(t, Determinant(l, Pt(100, 190)))
	assert.Zero(t, Determinant(l, Pt(320, 180)))
}

func TestCentroid(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Pt(15, 30), Centroid([4]float64{10, 20, 20, 40}))
}

func TestExtendLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		line          Line
		width, height float64
		want          Line
	}{
		{
			name:  "diagonal fills square frame",
			line:  Line{Start: Pt(0, 0), End: Pt(10, 10)},
			width: 20, height: 20,
			want: Line{Start: Pt(0, 0), End: Pt(20, 20)},
		},
		{
			name:  "vertical spans full height",
			line:  Line{Start: Pt(5, 0), End: Pt(5, 10)},
			width: 20, height: 30,
			want: Line{Start: Pt(5, 0), End: Pt(5, 30)},
		},
		{
			name:  "horizontal spans full width",
			line:  Line{Start: Pt(100, 180), End: Pt(200, 180)},
			width: 640, height: 360,
			want: Line{Start: Pt(0, 180), End: Pt(640, 180)},
		},
		{
			name:  "steep line clamps to top and bottom",
			line:  Line{Start: Pt(10, 0), End: Pt(20, 20)},
			width: 100, height: 40,
			want: Line{Start: Pt(10, 0), End: Pt(30, 40)},
		},
		{
			name:  "negative slope clamps to bottom on the left",
			line:  Line{Start: Pt(0, 50), End: Pt(10, 40)},
			width: 100, height: 40,
			want: Line{Start: Pt(10, 40), End: Pt(50, 0)},
		},
		{
			name:  "degenerate segment is returned unchanged",
			line:  Line{Start: Pt(3, 3), End: Pt(3, 3)},
			width: 20, height: 20,
			want: Line{Start: Pt(3, 3), End: Pt(3, 3)},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ExtendLine(tt.line, tt.width, tt.height)
			assert.InDelta(t, tt.want.Start.X, got.Start.X, 1e-9)
			assert.InDelta(t, tt.want.Start.Y, got.Start.Y, 1e-9)
			assert.InDelta(t, tt.want.End.X, got.End.X, 1e-9)
			assert.InDelta(t, tt.want.End.Y, got.End.Y, 1e-9)
		})
	}
}

func TestExtendLineKeepsCrossingSides(t *testing.T) {
	t.Parallel()

	l := Line{Start: Pt(100, 100), End: Pt(200, 150)}
	ext := ExtendLine(l, 640, 360)

	for _, p := range []Point{Pt(50, 300), Pt(600, 10), Pt(320, 180)} {
		assert.Equal(t, Determinant(l, p) > 0, Determinant(ext, p) > 0)
	}
}

func TestPointRound(t *testing.T) {
	t.Parallel()

	x, y := Pt(10.4, 19.6).Round()
	assert.Equal(t, 10, x)
	assert.Equal(t, 20, y)
}

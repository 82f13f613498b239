package consensus

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Laplacian returns the averaging matrix of a star of n agents with agent 0
// as the leader: the absolute graph Laplacian with each row divided by its
// row sum. The leader row weights itself by 1/2 and every follower by
// 1/(2(n-1)); a follower row averages itself with the leader.
func Laplacian(n int) *mat.Dense {
	if n == 1 {
		return mat.NewDense(1, 1, []float64{1})
	}
	l := mat.NewDense(n, n, nil)
	l.Set(0, 0, float64(n-1))
	for i := 1; i < n; i++ {
		l.Set(0, i, 1)
		l.Set(i, 0, 1)
		l.Set(i, i, 1)
	}
	for i := 0; i < n; i++ {
		row := l.RawRowView(i)
		floats.Scale(1/floats.Sum(row), row)
	}
	return l
}

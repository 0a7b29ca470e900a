package stats

import (
	"fmt"
	"math"

	"trophos/internal/nn"
)

// ReconstructionReport quantifies how closely reconstructed media
// vectors match their inputs.
type ReconstructionReport struct {
	Rows       int     `json:"rows"`
	MSE        float64 `json:"mse"`
	RMSE       float64 `json:"rmse"`
	MeanCosine float64 `json:"mean_cosine"`
}

// Reconstruction compares inputs to their reconstructions row by row.
func Reconstruction(inputs, recons [][]float64) (ReconstructionReport, error) {
	if len(inputs) != len(recons) {
		return ReconstructionReport{}, fmt.Errorf("row count mismatch: got=%d want=%d", len(recons), len(inputs))
	}
	if len(inputs) == 0 {
		return ReconstructionReport{}, fmt.Errorf("no rows to compare")
	}

	var sumSq float64
	var elements int
	cosines := make([]float64, 0, len(inputs))
	for i := range inputs {
		if len(inputs[i]) != len(recons[i]) {
			return ReconstructionReport{}, fmt.Errorf("row %d length mismatch: got=%d want=%d", i, len(recons[i]), len(inputs[i]))
		}
		for j := range inputs[i] {
			diff := inputs[i][j] - recons[i][j]
			sumSq += diff * diff
			elements++
		}
		cos, err := nn.Cosine(inputs[i], recons[i])
		if err != nil {
			return ReconstructionReport{}, err
		}
		cosines = append(cosines, cos)
	}
	if elements == 0 {
		return ReconstructionReport{}, fmt.Errorf("rows are empty")
	}

	mse := sumSq / float64(elements)
	meanCos, err := nn.Avg(cosines)
	if err != nil {
		return ReconstructionReport{}, err
	}
	return ReconstructionReport{
		Rows:       len(inputs),
		MSE:        mse,
		RMSE:       math.Sqrt(mse),
		MeanCosine: meanCos,
	}, nil
}

// Summary condenses a numeric series for run reports.
type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

func Summarize(values []float64) (Summary, error) {
	mean, err := nn.Avg(values)
	if err != nil {
		return Summary{}, err
	}
	std, err := nn.Std(values)
	if err != nil {
		return Summary{}, err
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return Summary{Mean: mean, Std: std, Min: min, Max: max}, nil
}

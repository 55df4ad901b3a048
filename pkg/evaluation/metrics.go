package evaluation

import (
	"fmt"
	"math"
)

// ErrorMetrics contains forecast accuracy metrics
type ErrorMetrics struct {
	// MAE - Mean Absolute Error
	MAE float64 `json:"mae"`

	// MSE - Mean Squared Error
	MSE float64 `json:"mse"`

	// RMSE - Root Mean Squared Error
	RMSE float64 `json:"rmse"`

	// MAPE - Mean Absolute Percentage Error over non-zero actuals
	MAPE float64 `json:"mape"`

	// SMAPE - Symmetric Mean Absolute Percentage Error
	SMAPE float64 `json:"smape"`

	// N is the number of compared points
	N int `json:"n"`
}

func (m ErrorMetrics) String() string {
	return fmt.Sprintf("MAE=%.3f RMSE=%.3f SMAPE=%.1f%% n=%d", m.MAE, m.RMSE, m.SMAPE, m.N)
}

// Compute compares predicted against actual. Only the common prefix of the
// two slices is used.
func Compute(actual, predicted []float64) ErrorMetrics {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	if n == 0 {
		return ErrorMetrics{}
	}

	var sumAbs, sumSq, sumAPE, sumSAPE float64
	validAPE, validSAPE := 0, 0

	for i := 0; i < n; i++ {
		r := actual[i] - predicted[i]
		absR := math.Abs(r)
		sumAbs += absR
		sumSq += r * r

		if actual[i] != 0 {
			sumAPE += absR / math.Abs(actual[i])
			validAPE++
		}
		// SMAPE counts a zero forecast of a zero actual as exact.
		if denom := math.Abs(actual[i]) + math.Abs(predicted[i]); denom > 0 {
			sumSAPE += absR / denom
		}
		validSAPE++
	}

	mse := sumSq / float64(n)
	m := ErrorMetrics{
		MAE:  sumAbs / float64(n),
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		N:    n,
	}
	if validAPE > 0 {
		m.MAPE = (sumAPE / float64(validAPE)) * 100
	}
	if validSAPE > 0 {
		m.SMAPE = (sumSAPE / float64(validSAPE)) * 200
	}
	return m
}

// MAE is the mean absolute error of the common prefix; NaN when empty.
func MAE(actual, predicted []float64) float64 {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	if n == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(n)
}

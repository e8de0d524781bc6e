// Package pricing holds the closed-form fair-value model and the realized volatility estimator.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// SecondsPerYear converts wall-clock seconds into year fractions.
const SecondsPerYear = 365.25 * 24 * 3600

// minRemaining floors time-to-deadline so the model stays defined at expiry.
const minRemaining = time.Millisecond

// ErrInvalidInput reports a non-positive price, strike, or volatility.
var ErrInvalidInput = errors.New("invalid pricing input")

// ProbUp returns the risk-neutral probability that spot finishes above strike
// after remaining time, for an annualized volatility sigma. The risk-free rate is zero.
func ProbUp(spot, strike decimal.Decimal, remaining time.Duration, sigma float64) (float64, error) {
	if !spot.IsPositive() || !strike.IsPositive() {
		return 0, fmt.Errorf("%w: spot=%s strike=%s", ErrInvalidInput, spot, strike)
	}
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return 0, fmt.Errorf("%w: sigma=%v", ErrInvalidInput, sigma)
	}
	// At the money the drift correction is dropped so the pair is symmetric.
	if spot.Equal(strike) {
		return 0.5, nil
	}
	if remaining < minRemaining {
		remaining = minRemaining
	}
	years := remaining.Seconds() / SecondsPerYear
	s := spot.InexactFloat64()
	k := strike.InexactFloat64()

	volT := sigma * math.Sqrt(years)
	z := (math.Log(s/k) - 0.5*sigma*sigma*years) / volT
	return NormCDF(z), nil
}

// ProbDown is the complement of ProbUp, so the model pair always sums to one.
func ProbDown(spot, strike decimal.Decimal, remaining time.Duration, sigma float64) (float64, error) {
	up, err := ProbUp(spot, strike, remaining, sigma)
	if err != nil {
		return 0, err
	}
	return 1 - up, nil
}

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

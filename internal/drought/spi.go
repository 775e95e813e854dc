package drought

import (
	"math"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SPIMethod records which branch produced an SPI value.
type SPIMethod string

const (
	// SPIInsufficient means the history was too short to say anything; the value is 0.
	SPIInsufficient SPIMethod = "insufficient"
	// SPIFitted means the value came from a gamma fit of the history.
	SPIFitted SPIMethod = "fitted"
	// SPIFallback means the gamma fit was degenerate and a z-score was used instead.
	SPIFallback SPIMethod = "fallback"
)

// MinSPIHistory is the minimum number of entries, and of positive entries,
// a history needs before SPI is computed.
const MinSPIHistory = 10

const (
	minCDF      = 0.001
	maxCDF      = 0.999
	minRainfall = 0.001
	maxSPI      = 3.0
)

// SPIResult is a Standardized Precipitation Index and the branch that produced it.
type SPIResult struct {
	Value  float64
	Method SPIMethod
}

// SPI standardizes value against history by fitting a two-parameter gamma
// distribution (location fixed at 0) to the positive entries of history and
// mapping the value's cumulative probability onto the standard normal.
// The result is clipped to [-3, 3].
func SPI(value float64, history []float64) SPIResult {
	if len(history) < MinSPIHistory {
		return SPIResult{Method: SPIInsufficient}
	}
	positive := make([]float64, 0, len(history))
	for _, h := range history {
		if h > 0 {
			positive = append(positive, h)
		}
	}
	if len(positive) < MinSPIHistory {
		return SPIResult{Method: SPIInsufficient}
	}

	shape, scale, ok := fitGamma(positive)
	if !ok {
		return SPIResult{Value: zScore(value, positive), Method: SPIFallback}
	}

	dist := distuv.Gamma{Alpha: shape, Beta: 1 / scale}
	p := clip(dist.CDF(math.Max(value, minRainfall)), minCDF, maxCDF)
	return SPIResult{
		Value:  clip(distuv.UnitNormal.Quantile(p), -maxSPI, maxSPI),
		Method: SPIFitted,
	}
}

func zScore(value float64, sample []float64) float64 {
	mean, std := stat.PopMeanStdDev(sample, nil)
	if !(std > 0) {
		return 0
	}
	return clip((value-mean)/std, -maxSPI, maxSPI)
}

// fitGamma returns the maximum likelihood shape and scale of a gamma
// distribution with location 0. The shape solves
//
//	log(a) - digamma(a) = log(mean(x)) - mean(log(x))
//
// which has a root only when the sample is not constant.
func fitGamma(x []float64) (shape, scale float64, ok bool) {
	var sum, logSum float64
	for _, v := range x {
		sum += v
		logSum += math.Log(v)
	}
	n := float64(len(x))
	mean := sum / n
	s := math.Log(mean) - logSum/n
	if !(s > 1e-12) || math.IsInf(s, 0) {
		return 0, 0, false
	}

	f := func(a float64) float64 { return math.Log(a) - mathext.Digamma(a) - s }

	// Start from Minka's approximation of the root.
	guess := (3 - s + math.Sqrt((s-3)*(s-3)+24*s)) / (12 * s)
	lo, hi := guess/2, guess*2
	for i := 0; f(lo) < 0; i++ {
		if i == 60 {
			return 0, 0, false
		}
		lo /= 2
	}
	for i := 0; f(hi) > 0; i++ {
		if i == 60 {
			return 0, 0, false
		}
		hi *= 2
	}

	// f is strictly decreasing on (0, inf); bisect in log space.
	for i := 0; i < 200 && hi-lo > 1e-12*hi; i++ {
		mid := math.Sqrt(lo * hi)
		if f(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	shape = (lo + hi) / 2
	if !(shape > 0) || math.IsInf(shape, 0) {
		return 0, 0, false
	}
	return shape, mean / shape, true
}

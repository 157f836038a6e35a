// Package indicator computes RSI and moving-average trend readings from
// close price series ordered oldest first.
package indicator

import "bithumb-dip-bot-go/internal/models"

// DefaultRSIPeriod is the standard RSI look-back.
const DefaultRSIPeriod = 14

// NeutralRSI is returned when the series is too short for a reading.
const NeutralRSI = 50.0

const (
	shortMA = 20
	longMA  = 50
)

// RSIReady reports whether RSI(closes, period) is a genuine reading rather
// than the neutral fallback.
func RSIReady(closes []float64, period int) bool {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	return len(closes) > period
}

// RSI returns the relative strength index over the last period deltas using
// simple averages. Series of period closes or fewer yield NeutralRSI. When there is
// no loss in the window the result is 100.
func RSI(closes []float64, period int) float64 {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	// period 个涨跌幅需要 period+1 个收盘价
	if len(closes) <= period {
		return NeutralRSI
	}

	n := period

	var gain, loss float64
	for i := len(closes) - n; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	if avgLoss == 0 {
		return 100
	}

	rsi := 100 - 100/(1+avgGain/avgLoss)
	if rsi < 0 {
		return 0
	}
	if rsi > 100 {
		return 100
	}
	return rsi
}

// MovingAverage returns the mean of the last n values, or 0 when there are
// fewer than n.
func MovingAverage(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// ClassifyTrend compares the last close with the 20 and 50 period averages.
func ClassifyTrend(closes []float64) models.Trend {
	if len(closes) < longMA {
		return models.TrendUnknown
	}
	current := closes[len(closes)-1]
	ma20 := MovingAverage(closes, shortMA)
	ma50 := MovingAverage(closes, longMA)

	switch {
	case current > ma20 && ma20 > ma50:
		return models.TrendBull
	case current < ma20 && ma20 < ma50:
		return models.TrendBear
	default:
		return models.TrendSideways
	}
}

// Closes extracts the close prices of a candle series.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

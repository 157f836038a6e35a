package indicator

import (
	"math/rand"
	"testing"

	"bithumb-dip-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestRSI_InsufficientHistory(t *testing.T) {
	assert.Equal(t, 50.0, RSI(nil, 14))
	assert.Equal(t, 50.0, RSI(ramp(13, 100, 1), 14))
	assert.Equal(t, 50.0, RSI(ramp(14, 100, 1), 14), "14 closes give only 13 deltas")
	assert.False(t, RSIReady(ramp(14, 100, 1), 14))
	assert.True(t, RSIReady(ramp(15, 100, 1), 14))
	assert.Equal(t, 100.0, RSI(ramp(15, 100, 1), 14))
}

func TestRSI_Extremes(t *testing.T) {
	assert.Equal(t, 100.0, RSI(ramp(30, 100, 1), 14), "no losses means 100")
	assert.InDelta(t, 0.0, RSI(ramp(30, 200, -1), 14), 1e-9, "no gains means 0")
	assert.Equal(t, 100.0, RSI(ramp(30, 100, 0), 14), "flat series has no loss")
}

func TestRSI_KnownValue(t *testing.T) {
	// alternating +2 / -1 over 14 deltas: avgGain 1, avgLoss 0.5
	closes := []float64{100}
	for i := 0; i < 14; i++ {
		last := closes[len(closes)-1]
		if i%2 == 0 {
			closes = append(closes, last+2)
		} else {
			closes = append(closes, last-1)
		}
	}
	assert.InDelta(t, 100-100/3.0, RSI(closes, 14), 1e-9)
}

func TestRSI_UsesOnlyLastPeriodDeltas(t *testing.T) {
	// a crash far in the past must not affect the reading
	closes := append([]float64{1000, 10}, ramp(20, 100, 1)...)
	assert.Equal(t, 100.0, RSI(closes, 14))
}

func TestRSI_AlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := r.Intn(120)
		closes := make([]float64, n)
		for j := range closes {
			closes[j] = 1 + r.Float64()*1000
		}
		v := RSI(closes, 14)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestMovingAverage(t *testing.T) {
	assert.Equal(t, 0.0, MovingAverage([]float64{1, 2}, 3))
	assert.Equal(t, 0.0, MovingAverage([]float64{1, 2}, 0))
	assert.Equal(t, 2.5, MovingAverage([]float64{10, 1, 2, 3, 4}, 4))
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, models.TrendUnknown, ClassifyTrend(ramp(49, 100, 1)))
	assert.Equal(t, models.TrendBull, ClassifyTrend(ramp(60, 100, 1)))
	assert.Equal(t, models.TrendBear, ClassifyTrend(ramp(60, 200, -1)))
	assert.Equal(t, models.TrendSideways, ClassifyTrend(ramp(60, 100, 0)))

	// rising series that just dipped below its short average
	closes := ramp(60, 100, 1)
	closes[59] = 100
	assert.Equal(t, models.TrendSideways, ClassifyTrend(closes))
}

func TestCloses(t *testing.T) {
	candles := []models.Candle{{Close: 1}, {Close: 2}, {Close: 3}}
	assert.Equal(t, []float64{1, 2, 3}, Closes(candles))
}

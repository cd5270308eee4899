package worldclock

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceTime(t *testing.T) {
	cases := []struct {
		in   TimeOfDay
		want TimeOfDay
	}{
		{"9:00 AM", "9:15 AM"},
		{"9:45 AM", "10:00 AM"},
		{"11:45 AM", "12:00 PM"},
		{"12:00 PM", "12:15 PM"},
		{"12:45 PM", "1:00 PM"},
		{"11:45 PM", "12:00 AM"},
		{"12:00 AM", "12:15 AM"},
		{"12:45 AM", "1:00 AM"},
	}
	for _, tc := range cases {
		t.Run(string(tc.in), func(t *testing.T) {
			got, err := AdvanceTime(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAdvanceTimeFullDayWrapsAround(t *testing.T) {
	cur := TimeOfDay("12:00 AM")
	var err error
	for i := 0; i < 96; i++ {
		cur, err = AdvanceTime(cur)
		require.NoError(t, err)
	}
	assert.Equal(t, TimeOfDay("12:00 AM"), cur)
}

func TestAdvanceTimeRejectsMalformedInput(t *testing.T) {
	for _, in := range []TimeOfDay{"", "25:00 AM", "11:75 PM", "noon", "11:45 XM"} {
		_, err := AdvanceTime(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestAdvanceWeatherStaysInBounds(t *testing.T) {
	rolls := []float64{0.0, 0.39, 0.40, 0.59, 0.60, 0.69, 0.70, 0.79, 0.80, 0.99}
	for w := WeatherMin; w <= WeatherMax; w++ {
		for _, roll := range rolls {
			got := AdvanceWeather(w, roll)
			assert.GreaterOrEqual(t, int(got), int(WeatherMin), "w=%d roll=%f", w, roll)
			assert.LessOrEqual(t, int(got), int(WeatherMax), "w=%d roll=%f", w, roll)
		}
	}
}

func TestAdvanceWeatherBoundaryClamping(t *testing.T) {
	// -1 and -2 steps from the floor stay at the floor.
	assert.Equal(t, WeatherMin, AdvanceWeather(WeatherMin, 0.45))
	assert.Equal(t, WeatherMin, AdvanceWeather(WeatherMin, 0.75))
	// +1 and +2 steps from the ceiling stay at the ceiling.
	assert.Equal(t, WeatherMax, AdvanceWeather(WeatherMax, 0.10))
	assert.Equal(t, WeatherMax, AdvanceWeather(WeatherMax, 0.65))
	// A +2 jump from 9 clamps to 10.
	assert.Equal(t, WeatherMax, AdvanceWeather(9, 0.65))
	// A -2 jump from 2 clamps to 1.
	assert.Equal(t, WeatherMin, AdvanceWeather(2, 0.75))
}

func TestAdvanceWeatherLongRunFrequencies(t *testing.T) {
	// Verify the categorical distribution itself, away from the clamping
	// boundaries, over a large seeded sample.
	rng := rand.New(rand.NewSource(42))
	const n = 200_000
	const start WeatherLevel = 5

	counts := map[int]int{}
	for i := 0; i < n; i++ {
		next := AdvanceWeather(start, rng.Float64())
		counts[int(next)-int(start)]++
	}

	freq := func(delta int) float64 { return float64(counts[delta]) / n }
	const tolerance = 0.01
	assert.InDelta(t, 0.40, freq(1), tolerance, "P(+1)")
	assert.InDelta(t, 0.20, freq(-1), tolerance, "P(-1)")
	assert.InDelta(t, 0.10, freq(2), tolerance, "P(+2)")
	assert.InDelta(t, 0.10, freq(-2), tolerance, "P(-2)")
	assert.InDelta(t, 0.20, freq(0), tolerance, "P(0)")
}

func TestClockTick(t *testing.T) {
	clock := NewClockWithRoll(func() float64 { return 0.5 }) // always -1
	nextTime, nextWeather, err := clock.Tick("11:45 PM", 4)
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay("12:00 AM"), nextTime)
	assert.Equal(t, WeatherLevel(3), nextWeather)
}

package perfstats

import (
	"fmt"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

func (a *TimeAccumulator) String() string {
	if a.Samples == 0 {
		return "no samples"
	}
	return fmt.Sprintf("avg %v, max %v over %v", a.Average().Round(time.Millisecond), a.Max.Round(time.Millisecond), a.Samples)
}

package watch

import (
	"math"
	"sync"
	"time"
)

// fdtime is the time period since the previous depth sample arrived
// ftime shows how fast the average reacts on changes.
//
func (avgs *DepthEMA) Update(value int64) {
	avgs.Lock()
	defer avgs.Unlock()

	fdtime := time.Now().Sub(avgs.last)
	avgs.last = time.Now()

	for ftime, oldValue := range avgs.avgs {
		alpha := 1.0 - math.Exp(-fdtime.Seconds()/ftime.Seconds())
		avgs.avgs[ftime] = alpha*float64(value) + (1.0-alpha)*oldValue
	}
}

func (avgs *DepthEMA) Keys() (keys []time.Duration) {
	avgs.Lock()
	defer avgs.Unlock()

	keys = make([]time.Duration, 0, len(avgs.avgs))
	for k := range avgs.avgs {
		keys = append(keys, k)
	}
	return keys
}

func (avgs *DepthEMA) Get(window time.Duration) (avg float64, wasPresent bool) {
	avgs.Lock()
	defer avgs.Unlock()

	avg, wasPresent = avgs.avgs[window]
	return avg, wasPresent
}

func NewDepthEMA(windows []time.Duration, initial float64) (emas *DepthEMA) {
	emas = &DepthEMA{
		avgs: make(map[time.Duration]float64, len(windows)),
		last: time.Now(),
	}
	for _, window := range windows {
		emas.avgs[window] = initial
	}

	return emas
}

type DepthEMA struct {
	avgs map[time.Duration]float64
	last time.Time
	sync.Mutex
}

package client

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultBackoffBase   = 500 * time.Millisecond
	DefaultBackoffMax    = 30 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultBackoffJitter = 0.2
)

// Backoff produces capped exponential delays with symmetric jitter:
// Base*Factor^n scaled by a random factor in [1-Jitter, 1+Jitter], never above Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	mutex   sync.Mutex
	attempt int
	random  func() float64
}

func NewBackoff() *Backoff {
	return &Backoff{
		Base:   DefaultBackoffBase,
		Max:    DefaultBackoffMax,
		Factor: DefaultBackoffFactor,
		Jitter: DefaultBackoffJitter,
		random: rand.Float64,
	}
}

// Next returns the delay before the next attempt and advances the attempt count.
func (b *Backoff) Next() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delay := float64(b.Base) * math.Pow(b.Factor, float64(b.attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	} else {
		b.attempt++
	}

	if b.Jitter > 0 {
		random := b.random
		if random == nil {
			random = rand.Float64
		}
		delay *= 1 + b.Jitter*(2*random()-1)
	}
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

func (b *Backoff) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.attempt
}

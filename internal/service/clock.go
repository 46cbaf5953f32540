package service

import "time"

// Clock источник текущего времени
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock реальное время
func SystemClock() Clock { return systemClock{} }

// FixedClock время, которое двигают вручную (тесты)
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

// Advance сдвигает время вперед
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }

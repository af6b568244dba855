package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceRunsInDeadlineOrder(t *testing.T) {
	assert := assert.New(t)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(time.Minute, func() { order = append(order, "c") })

	c.Advance(5 * time.Second)
	assert.Equal([]string{"a", "b"}, order)
	assert.Equal(start.Add(5*time.Second), c.Now())
	assert.Equal(1, c.Pending())

	c.Advance(time.Minute)
	assert.Equal([]string{"a", "b", "c"}, order)
	assert.Equal(0, c.Pending())
}

func TestFakeStop(t *testing.T) {
	assert := assert.New(t)
	c := NewFake(time.Now())

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(timer.Stop())
	assert.False(timer.Stop())

	c.Advance(time.Hour)
	assert.False(fired)
}

func TestFakeNestedCallbacks(t *testing.T) {
	assert := assert.New(t)
	c := NewFake(time.Now())

	var seen []time.Duration
	start := c.Now()
	c.AfterFunc(time.Second, func() {
		seen = append(seen, c.Now().Sub(start))
		c.AfterFunc(time.Second, func() {
			seen = append(seen, c.Now().Sub(start))
		})
	})

	c.Advance(10 * time.Second)
	assert.Equal([]time.Duration{time.Second, 2 * time.Second}, seen)
}

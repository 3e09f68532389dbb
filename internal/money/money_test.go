package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent_RoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(125), Percent(2500, 5))
	assert.Equal(t, int64(250), Percent(2500, 10))
	// 1 × 50% = 0.5 -> 1
	assert.Equal(t, int64(1), Percent(1, 50))
	// 333 × 15% = 49.95 -> 50
	assert.Equal(t, int64(50), Percent(333, 15))
	// 101 × 5% = 5.05 -> 5
	assert.Equal(t, int64(5), Percent(101, 5))
	assert.Equal(t, int64(0), Percent(0, 10))
	assert.Equal(t, int64(0), Percent(1000, 0))
}

func TestPounds(t *testing.T) {
	assert.Equal(t, int64(23), Pounds(2375))
	assert.Equal(t, int64(0), Pounds(99))
	assert.Equal(t, int64(0), Pounds(-500))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "£50.00", Format(5000))
	assert.Equal(t, "£3.99", Format(399))
	assert.Equal(t, "£0.05", Format(5))
}

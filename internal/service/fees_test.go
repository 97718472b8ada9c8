package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"parkd/internal/db"
)

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func TestComputeFee_ThreeAndAHalfHours(t *testing.T) {
	fee := ComputeFee(carRate, t0, t0.Add(hours(3.5)), nil)
	assert.InDelta(t, 3.5, fee.DurationHours, 1e-9)
	assert.False(t, fee.IsLate)
	assert.Equal(t, 125.0, fee.Total)
}

func TestComputeFee_LateSurchargeAfterCap(t *testing.T) {
	maxEnd := t0.Add(hours(2.5))
	fee := ComputeFee(carRate, t0, t0.Add(hours(3.5)), &maxEnd)
	assert.True(t, fee.IsLate)
	assert.InDelta(t, 1.0, fee.OvertimeHours, 1e-9)
	assert.InDelta(t, 45.0, fee.LateFee, 1e-9)
	assert.Equal(t, 170.0, fee.Total)
}

func TestComputeFee_CapAppliesBeforeSurcharge(t *testing.T) {
	maxEnd := t0.Add(10 * time.Hour)
	fee := ComputeFee(carRate, t0, t0.Add(12*time.Hour), &maxEnd)
	assert.Equal(t, 300.0, fee.CappedFee)
	assert.InDelta(t, 90.0, fee.LateFee, 1e-9)
	assert.Equal(t, 390.0, fee.Total)
}

func TestComputeFee_FirstHourIsFlat(t *testing.T) {
	assert.Equal(t, 50.0, ComputeFee(carRate, t0, t0, nil).Total)
	assert.Equal(t, 50.0, ComputeFee(carRate, t0, t0.Add(40*time.Minute), nil).Total)
	assert.Equal(t, 50.0, ComputeFee(carRate, t0, t0.Add(-time.Minute), nil).Total)
}

func TestComputeFee_MonotonicAndCapped(t *testing.T) {
	prev := 0.0
	for m := 0; m <= 48*60; m += 7 {
		fee := ComputeFee(carRate, t0, t0.Add(time.Duration(m)*time.Minute), nil)
		assert.GreaterOrEqual(t, fee.Total, prev, "fee dropped at %d minutes", m)
		assert.LessOrEqual(t, fee.Total, carRate.DailyCap)
		prev = fee.Total
	}
}

func TestComputeFee_NoCap(t *testing.T) {
	rate := db.Rate{FirstHour: 10, AdditionalHour: 5}
	fee := ComputeFee(rate, t0, t0.Add(101*time.Hour), nil)
	assert.Equal(t, 510.0, fee.Total)
}

func TestComputeFee_RoundsToCents(t *testing.T) {
	fee := ComputeFee(carRate, t0, t0.Add(time.Hour+time.Minute), nil)
	assert.Equal(t, 50.5, fee.Total)

	fee = ComputeFee(db.Rate{FirstHour: 10, AdditionalHour: 7}, t0, t0.Add(time.Hour+20*time.Minute), nil)
	assert.Equal(t, 12.33, fee.Total)
}

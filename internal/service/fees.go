package service

import (
	"math"
	"time"

	"parkd/internal/db"
	"parkd/internal/entities"
)

// latePenaltyMultiplier applies a 50% surcharge on overtime past max-end.
const latePenaltyMultiplier = 1.5

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeFee prices a stay from start to end. The first hour is flat, later hours
// are prorated and the result is capped at the daily cap. Overtime past maxEnd is
// charged on top of the capped amount.
func ComputeFee(rate db.Rate, start, end time.Time, maxEnd *time.Time) entities.FeeBreakdown {
	duration := end.Sub(start).Hours()
	if duration < 0 {
		duration = 0
	}

	fee := rate.FirstHour + math.Max(0, duration-1)*rate.AdditionalHour
	if rate.DailyCap > 0 {
		fee = math.Min(fee, rate.DailyCap)
	}

	out := entities.FeeBreakdown{
		DurationHours: duration,
		CappedFee:     fee,
	}
	if maxEnd != nil && end.After(*maxEnd) {
		out.OvertimeHours = end.Sub(*maxEnd).Hours()
		out.LateFee = rate.AdditionalHour * out.OvertimeHours * latePenaltyMultiplier
		out.IsLate = true
	}
	out.Total = round2(out.CappedFee + out.LateFee)
	return out
}

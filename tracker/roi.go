package tracker

import "math"

// ROIInputs are the cost and benefit estimates an ROI calculation is based on.
// Annual figures are per year; Years is the evaluation horizon.
type ROIInputs struct {
	ImplementationCost  float64 `json:"implementation_cost"`
	AnnualOperatingCost float64 `json:"annual_operating_cost"`
	HoursSavedPerYear   float64 `json:"hours_saved_per_year"`
	HourlyRate          float64 `json:"hourly_rate"`
	AnnualRevenueGain   float64 `json:"annual_revenue_gain"`
	AnnualCostReduction float64 `json:"annual_cost_reduction"`
	Years               float64 `json:"years"`
}

// ROIResult holds the figures derived from ROIInputs.
// PaybackMonths is nil when the initiative never pays back.
type ROIResult struct {
	AnnualBenefit float64  `json:"annual_benefit"`
	TotalCost     float64  `json:"total_cost"`
	TotalBenefit  float64  `json:"total_benefit"`
	NetBenefit    float64  `json:"net_benefit"`
	ROIPercent    float64  `json:"roi_percent"`
	PaybackMonths *float64 `json:"payback_months,omitempty"`
}

// ComputeROI derives the ROI figures for the given inputs. A zero horizon is
// treated as one year.
func ComputeROI(in ROIInputs) ROIResult {
	years := in.Years
	if years <= 0 {
		years = 1
	}

	annualBenefit := in.HoursSavedPerYear*in.HourlyRate + in.AnnualRevenueGain + in.AnnualCostReduction
	totalCost := in.ImplementationCost + in.AnnualOperatingCost*years
	totalBenefit := annualBenefit * years
	net := totalBenefit - totalCost

	res := ROIResult{
		AnnualBenefit: round2(annualBenefit),
		TotalCost:     round2(totalCost),
		TotalBenefit:  round2(totalBenefit),
		NetBenefit:    round2(net),
	}
	if totalCost > 0 {
		res.ROIPercent = round2(net / totalCost * 100)
	}

	monthlyNet := (annualBenefit - in.AnnualOperatingCost) / 12
	if monthlyNet > 0 {
		months := round2(in.ImplementationCost / monthlyNet)
		res.PaybackMonths = &months
	}
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package tracker

import (
	"math"
	"sort"
	"time"
)

// DefaultThresholds are the progress percentages that raise an alert when a
// phase crosses them.
var DefaultThresholds = []int{25, 50, 75, 100}

// PhaseProgress returns the share of completed milestones as a whole
// percentage. ok is false when the phase has no milestones, in which case
// its manually entered progress stands.
func PhaseProgress(milestones []Milestone) (progress int, ok bool) {
	if len(milestones) == 0 {
		return 0, false
	}
	done := 0
	for _, m := range milestones {
		if m.Completed {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(milestones)) * 100)), true
}

// ProjectProgress is the rounded mean progress of the phases.
func ProjectProgress(phases []Phase) int {
	if len(phases) == 0 {
		return 0
	}
	sum := 0
	for _, p := range phases {
		sum += p.Progress
	}
	return int(math.Round(float64(sum) / float64(len(phases))))
}

// CrossedThresholds returns, in ascending order, every threshold t with
// from < t <= to. Nothing is crossed when progress does not increase.
func CrossedThresholds(from, to int, thresholds []int) []int {
	if to <= from {
		return nil
	}
	sorted := append([]int(nil), thresholds...)
	sort.Ints(sorted)

	var crossed []int
	for _, t := range sorted {
		if t > from && t <= to {
			crossed = append(crossed, t)
		}
	}
	return crossed
}

// NextPhaseStatus derives a phase's status from its progress and target
// date. Completion wins over lateness. A phase at zero progress that is not
// late falls back to NOT_STARTED if it was COMPLETED or DELAYED, and
// otherwise keeps its status.
func NextPhaseStatus(p Phase, progress int, now time.Time) PhaseStatus {
	if progress >= 100 {
		return PhaseCompleted
	}
	if p.TargetDate != nil && now.After(*p.TargetDate) {
		return PhaseDelayed
	}
	if progress > 0 {
		return PhaseInProgress
	}
	if p.Status == PhaseCompleted || p.Status == PhaseDelayed {
		// Progress was rolled back or the target date moved out.
		return PhaseNotStarted
	}
	return p.Status
}

// Overdue reports whether the milestone is past due and still open.
func (m Milestone) Overdue(now time.Time) bool {
	return !m.Completed && m.DueDate != nil && now.After(*m.DueDate)
}

// Overdue reports whether the project is past its target date and still open.
func (p Project) Overdue(now time.Time) bool {
	return !p.Status.Closed() && p.TargetDate != nil && now.After(*p.TargetDate)
}

// Achievement returns how far the KPI has moved from baseline towards target,
// as a percentage clamped to [0, 100].
func (k KPI) Achievement() float64 {
	span := k.Target - k.Baseline
	if span == 0 {
		if k.met() {
			return 100
		}
		return 0
	}
	pct := (k.Current - k.Baseline) / span * 100
	return round2(math.Max(0, math.Min(100, pct)))
}

func (k KPI) met() bool {
	if k.Direction == KPIDecrease {
		return k.Current <= k.Target
	}
	return k.Current >= k.Target
}

// Score multiplies severity and likelihood weights; 1 (low/low) to 12
// (critical/high).
func (r Risk) Score() int {
	return severityWeight[r.Severity] * likelihoodWeight[r.Likelihood]
}

var severityWeight = map[RiskSeverity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

var likelihoodWeight = map[RiskLikelihood]int{
	LikelihoodLow:    1,
	LikelihoodMedium: 2,
	LikelihoodHigh:   3,
}

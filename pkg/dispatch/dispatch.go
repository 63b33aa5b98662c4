// Package dispatch classifies, scores, and time-schedules the day's jobs.
// The scheduler is a deterministic, explainable heuristic: classification
// weight dominates priority weight, ties break by input order, and jobs that
// do not fit the work window are excluded rather than truncated.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fieldops/dayplan/pkg/capabilities"
	"github.com/fieldops/dayplan/pkg/contracts"
)

// Input errors, rejected before scoring and never recorded as plan error
// state.
var (
	ErrNoJobs         = errors.New("dispatch: no jobs to schedule")
	ErrBadPreferences = errors.New("dispatch: malformed scheduling preferences")
)

// Scoring constants. Classification dominates priority, which dominates the
// VIP bonus, so an emergency always outranks any maintenance job.
const (
	weightEmergency   = 1000
	weightDemand      = 100
	weightMaintenance = 10

	weightUrgent = 40
	weightHigh   = 30
	weightMedium = 20
	weightLow    = 10

	vipBonus = 50

	defaultJobGapMinutes = 10
)

// emergencyLexicon matches emergencies by title/description keywords when
// the job type is not in the configured emergency-type list.
var emergencyLexicon = []string{
	"emergency", "burst", "flood", "leak", "no heat", "no power", "gas",
}

// Stage runs the dispatch step of the planning workflow.
type Stage struct {
	reasoning        capabilities.ReasoningProvider
	narrativeTimeout time.Duration
	logger           *slog.Logger
}

func New(reasoning capabilities.ReasoningProvider, narrativeTimeout time.Duration) *Stage {
	if narrativeTimeout <= 0 {
		narrativeTimeout = 10 * time.Second
	}
	return &Stage{
		reasoning:        reasoning,
		narrativeTimeout: narrativeTimeout,
		logger:           slog.Default().With("component", "dispatch"),
	}
}

// Run produces the DispatchOutput for the given jobs and preferences.
// The only fatal condition is an empty job list.
func (s *Stage) Run(ctx context.Context, jobs []contracts.Job, prefs contracts.PlanningPreferences) (*contracts.DispatchOutput, error) {
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	window, err := parseWindow(prefs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPreferences, err)
	}

	scored := scoreJobs(jobs, prefs)
	// Stable sort keeps input order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	out := placeJobs(scored, window, prefs)
	out.Narrative = s.narrate(ctx, out, len(jobs))

	s.logger.InfoContext(ctx, "dispatch complete",
		"scheduled", len(out.Jobs),
		"unscheduled", len(out.UnscheduledJobIDs),
		"emergencies", out.ClassCounts[contracts.ClassEmergency],
	)
	return out, nil
}

type scoredJob struct {
	job   contracts.Job
	class contracts.JobClass
	score int
}

// Classify assigns the job class used for scoring: emergency by configured
// type or lexicon match, demand by urgent/high priority, else maintenance.
func Classify(job contracts.Job, prefs contracts.PlanningPreferences) contracts.JobClass {
	for _, t := range prefs.EmergencyJobTypes {
		if strings.EqualFold(job.Type, t) {
			return contracts.ClassEmergency
		}
	}
	text := strings.ToLower(job.Title + " " + job.Description)
	for _, kw := range emergencyLexicon {
		if strings.Contains(text, kw) {
			return contracts.ClassEmergency
		}
	}
	if job.Priority == contracts.PriorityUrgent || job.Priority == contracts.PriorityHigh {
		return contracts.ClassDemand
	}
	return contracts.ClassMaintenance
}

func scoreJobs(jobs []contracts.Job, prefs contracts.PlanningPreferences) []scoredJob {
	vip := make(map[string]bool, len(prefs.VIPCustomerIDs))
	for _, id := range prefs.VIPCustomerIDs {
		vip[id] = true
	}

	scored := make([]scoredJob, 0, len(jobs))
	for _, job := range jobs {
		class := Classify(job, prefs)
		score := classWeight(class) + priorityWeight(job.Priority)
		if vip[job.CustomerID] {
			score += vipBonus
		}
		scored = append(scored, scoredJob{job: job, class: class, score: score})
	}
	return scored
}

func classWeight(class contracts.JobClass) int {
	switch class {
	case contracts.ClassEmergency:
		return weightEmergency
	case contracts.ClassDemand:
		return weightDemand
	default:
		return weightMaintenance
	}
}

func priorityWeight(p contracts.PriorityLevel) int {
	switch p {
	case contracts.PriorityUrgent:
		return weightUrgent
	case contracts.PriorityHigh:
		return weightHigh
	case contracts.PriorityMedium:
		return weightMedium
	default:
		return weightLow
	}
}

type workWindow struct {
	workStart, workEnd   int
	lunchStart, lunchEnd int
}

func parseWindow(prefs contracts.PlanningPreferences) (workWindow, error) {
	var w workWindow
	var err error
	if w.workStart, err = contracts.ParseClock(prefs.WorkStart); err != nil {
		return w, err
	}
	if w.workEnd, err = contracts.ParseClock(prefs.WorkEnd); err != nil {
		return w, err
	}
	if w.lunchStart, err = contracts.ParseClock(prefs.LunchStart); err != nil {
		return w, err
	}
	if w.lunchEnd, err = contracts.ParseClock(prefs.LunchEnd); err != nil {
		return w, err
	}
	if w.workEnd <= w.workStart {
		return w, fmt.Errorf("work window %s-%s is empty", prefs.WorkStart, prefs.WorkEnd)
	}
	return w, nil
}

// placeJobs greedily assigns time slots in score order. The lunch window is
// reserved: a job that would overlap it starts after lunch instead. A job
// that cannot finish by work end is excluded entirely; the cursor does not
// advance for it, so later (shorter) jobs may still fit.
func placeJobs(scored []scoredJob, w workWindow, prefs contracts.PlanningPreferences) *contracts.DispatchOutput {
	gap := prefs.JobGapMinutes
	if gap <= 0 {
		gap = defaultJobGapMinutes
	}

	out := &contracts.DispatchOutput{
		Constraints: contracts.SchedulingConstraints{
			WorkStart:     prefs.WorkStart,
			WorkEnd:       prefs.WorkEnd,
			LunchStart:    prefs.LunchStart,
			LunchEnd:      prefs.LunchEnd,
			BufferMinutes: prefs.BufferMinutes,
			JobGapMinutes: gap,
		},
		ClassCounts: map[contracts.JobClass]int{},
	}

	cursor := w.workStart
	rank := 0
	for _, sj := range scored {
		need := sj.job.DurationMinutes + prefs.BufferMinutes

		start := cursor
		if start < w.lunchEnd && start+need > w.lunchStart {
			// Would overlap the reserved lunch window.
			start = w.lunchEnd
		}
		if start+need > w.workEnd {
			out.UnscheduledJobIDs = append(out.UnscheduledJobIDs, sj.job.ID)
			continue
		}

		rank++
		out.ClassCounts[sj.class]++
		out.Jobs = append(out.Jobs, contracts.ScheduledJob{
			JobID:          sj.job.ID,
			PriorityRank:   rank,
			Classification: sj.class,
			PriorityScore:  sj.score,
			StartTime:      contracts.FormatClock(start),
			EndTime:        contracts.FormatClock(start + need),
			BufferMinutes:  prefs.BufferMinutes,
			Reason:         placementReason(sj),
		})
		cursor = start + need + gap
	}
	return out
}

func placementReason(sj scoredJob) string {
	switch sj.class {
	case contracts.ClassEmergency:
		return fmt.Sprintf("emergency job, scheduled first (score %d)", sj.score)
	case contracts.ClassDemand:
		return fmt.Sprintf("%s priority demand job (score %d)", sj.job.Priority, sj.score)
	default:
		return fmt.Sprintf("routine maintenance (score %d)", sj.score)
	}
}

// narrate asks the reasoning provider for a plan explanation. The call is
// best-effort with a bounded timeout; on any failure a deterministic
// templated narrative is substituted so the stage never fails here.
func (s *Stage) narrate(ctx context.Context, out *contracts.DispatchOutput, totalJobs int) string {
	summary := summarize(out, totalJobs)
	if s.reasoning != nil {
		nctx, cancel := context.WithTimeout(ctx, s.narrativeTimeout)
		defer cancel()
		if text, err := s.reasoning.Narrate(nctx, summary); err == nil && text != "" {
			return text
		} else if err != nil {
			s.logger.WarnContext(ctx, "reasoning provider unavailable, using templated narrative", "error", err)
		}
	}
	return summary
}

func summarize(out *contracts.DispatchOutput, totalJobs int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled %d of %d jobs between %s and %s",
		len(out.Jobs), totalJobs, out.Constraints.WorkStart, out.Constraints.WorkEnd)
	if n := out.ClassCounts[contracts.ClassEmergency]; n > 0 {
		fmt.Fprintf(&b, ", leading with %d emergency job(s)", n)
	}
	if n := len(out.UnscheduledJobIDs); n > 0 {
		fmt.Fprintf(&b, "; %d job(s) did not fit the work day and were left unscheduled", n)
	}
	b.WriteString(".")
	return b.String()
}

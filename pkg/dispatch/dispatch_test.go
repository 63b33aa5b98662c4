package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/dayplan/pkg/capabilities"
	"github.com/fieldops/dayplan/pkg/contracts"
)

func testPrefs() contracts.PlanningPreferences {
	return contracts.PlanningPreferences{
		WorkStart:         "08:00",
		WorkEnd:           "17:00",
		LunchStart:        "12:00",
		LunchEnd:          "13:00",
		BufferMinutes:     15,
		JobGapMinutes:     10,
		EmergencyJobTypes: []string{"burst_pipe"},
	}
}

func job(id string, typ string, priority contracts.PriorityLevel, customer string, duration int) contracts.Job {
	return contracts.Job{
		ID:              id,
		Title:           "Job " + id,
		Type:            typ,
		Priority:        priority,
		CustomerID:      customer,
		DurationMinutes: duration,
	}
}

func TestRun_EmptyJobList(t *testing.T) {
	stage := New(&capabilities.FakeReasoning{}, time.Second)
	_, err := stage.Run(context.Background(), nil, testPrefs())
	require.ErrorIs(t, err, ErrNoJobs)
}

func TestRun_MalformedPreferences(t *testing.T) {
	stage := New(&capabilities.FakeReasoning{}, time.Second)
	prefs := testPrefs()
	prefs.WorkStart = "late-ish"

	_, err := stage.Run(context.Background(), []contracts.Job{job("j1", "repair", contracts.PriorityLow, "c1", 60)}, prefs)
	require.ErrorIs(t, err, ErrBadPreferences)
}

func TestRun_RanksAreContiguousPermutation(t *testing.T) {
	jobs := []contracts.Job{
		job("j1", "repair", contracts.PriorityLow, "c1", 60),
		job("j2", "install", contracts.PriorityHigh, "c2", 90),
		job("j3", "maintenance", contracts.PriorityMedium, "c3", 45),
		job("j4", "burst_pipe", contracts.PriorityLow, "c4", 30),
	}
	stage := New(&capabilities.FakeReasoning{}, time.Second)

	out, err := stage.Run(context.Background(), jobs, testPrefs())
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, sj := range out.Jobs {
		assert.False(t, seen[sj.PriorityRank], "duplicate rank %d", sj.PriorityRank)
		seen[sj.PriorityRank] = true
	}
	for rank := 1; rank <= len(out.Jobs); rank++ {
		assert.True(t, seen[rank], "missing rank %d", rank)
	}
	assert.LessOrEqual(t, len(out.Jobs), len(jobs))
}

func TestRun_EmergencyOutranksVIPOutranksMaintenance(t *testing.T) {
	prefs := testPrefs()
	prefs.VIPCustomerIDs = []string{"vip-1"}

	// Input order deliberately reversed from the expected rank order.
	jobs := []contracts.Job{
		job("low", "maintenance", contracts.PriorityLow, "c1", 45),
		job("vip", "install", contracts.PriorityUrgent, "vip-1", 60),
		job("boom", "burst_pipe", contracts.PriorityLow, "c3", 30),
	}
	stage := New(&capabilities.FakeReasoning{}, time.Second)

	out, err := stage.Run(context.Background(), jobs, prefs)
	require.NoError(t, err)
	require.Len(t, out.Jobs, 3)

	assert.Equal(t, "boom", out.Jobs[0].JobID)
	assert.Equal(t, contracts.ClassEmergency, out.Jobs[0].Classification)
	assert.Equal(t, "vip", out.Jobs[1].JobID)
	assert.Equal(t, contracts.ClassDemand, out.Jobs[1].Classification)
	assert.Equal(t, "low", out.Jobs[2].JobID)
	assert.Equal(t, contracts.ClassMaintenance, out.Jobs[2].Classification)
}

func TestClassify_EmergencyAlwaysBeatsMaintenance(t *testing.T) {
	prefs := testPrefs()
	emergency := job("e", "burst_pipe", contracts.PriorityLow, "c1", 30)
	maintenance := job("m", "maintenance", contracts.PriorityUrgent, "c2", 30)

	// Any VIP configuration: the VIP bonus must not flip the ordering.
	for _, vips := range [][]string{nil, {"c2"}, {"c1", "c2"}} {
		prefs.VIPCustomerIDs = vips
		eScore := classWeight(Classify(emergency, prefs)) + priorityWeight(emergency.Priority)
		mScore := classWeight(Classify(maintenance, prefs)) + priorityWeight(maintenance.Priority) + vipBonus
		assert.Greater(t, eScore, mScore, "vips=%v", vips)
	}
}

func TestClassify_LexiconMatch(t *testing.T) {
	prefs := testPrefs()
	j := job("j1", "plumbing", contracts.PriorityLow, "c1", 30)
	j.Description = "water leak under the kitchen sink"
	assert.Equal(t, contracts.ClassEmergency, Classify(j, prefs))
}

func TestRun_OverflowJobsExcludedEntirely(t *testing.T) {
	// 8 available hours (08:00-17:00 minus lunch). Each job consumes
	// 120+15 minutes plus a 10 minute gap, and the second is pushed past
	// the reserved lunch window, so only two fit before 17:00.
	var jobs []contracts.Job
	ids := []string{"j1", "j2", "j3", "j4", "j5"}
	for _, id := range ids {
		jobs = append(jobs, job(id, "repair", contracts.PriorityMedium, "c", 120))
	}
	stage := New(&capabilities.FakeReasoning{}, time.Second)

	out, err := stage.Run(context.Background(), jobs, testPrefs())
	require.NoError(t, err)

	assert.Len(t, out.Jobs, 2)
	assert.ElementsMatch(t, []string{"j3", "j4", "j5"}, out.UnscheduledJobIDs)
	for _, sj := range out.Jobs {
		assert.NotEmpty(t, sj.StartTime)
		assert.NotEmpty(t, sj.EndTime)
	}
}

func TestRun_LunchWindowReserved(t *testing.T) {
	jobs := []contracts.Job{
		job("morning", "repair", contracts.PriorityHigh, "c1", 180),
		job("after-lunch", "repair", contracts.PriorityMedium, "c2", 60),
	}
	stage := New(&capabilities.FakeReasoning{}, time.Second)

	out, err := stage.Run(context.Background(), jobs, testPrefs())
	require.NoError(t, err)
	require.Len(t, out.Jobs, 2)

	// First job: 08:00 + 180 + 15 = 11:15. The second would start 11:25
	// and overlap lunch, so it is pushed to 13:00.
	assert.Equal(t, "08:00", out.Jobs[0].StartTime)
	assert.Equal(t, "11:15", out.Jobs[0].EndTime)
	assert.Equal(t, "13:00", out.Jobs[1].StartTime)
	assert.Equal(t, "14:15", out.Jobs[1].EndTime)
}

func TestRun_TieBreakKeepsInputOrder(t *testing.T) {
	jobs := []contracts.Job{
		job("first", "repair", contracts.PriorityMedium, "c1", 30),
		job("second", "repair", contracts.PriorityMedium, "c2", 30),
		job("third", "repair", contracts.PriorityMedium, "c3", 30),
	}
	stage := New(&capabilities.FakeReasoning{}, time.Second)

	out, err := stage.Run(context.Background(), jobs, testPrefs())
	require.NoError(t, err)
	require.Len(t, out.Jobs, 3)
	assert.Equal(t, "first", out.Jobs[0].JobID)
	assert.Equal(t, "second", out.Jobs[1].JobID)
	assert.Equal(t, "third", out.Jobs[2].JobID)
}

func TestRun_NarrativeFallbackOnReasoningFailure(t *testing.T) {
	reasoning := &capabilities.FakeReasoning{Err: errors.New("model overloaded")}
	stage := New(reasoning, time.Second)

	out, err := stage.Run(context.Background(), []contracts.Job{job("j1", "repair", contracts.PriorityLow, "c1", 60)}, testPrefs())
	require.NoError(t, err, "reasoning failure must never fail the stage")
	assert.Equal(t, 1, reasoning.Calls)
	assert.Contains(t, out.Narrative, "Scheduled 1 of 1 jobs")
}

func TestRun_NarrativeTimeout(t *testing.T) {
	reasoning := &capabilities.FakeReasoning{Delay: 200 * time.Millisecond, Narrative: "too slow"}
	stage := New(reasoning, 20*time.Millisecond)

	out, err := stage.Run(context.Background(), []contracts.Job{job("j1", "repair", contracts.PriorityLow, "c1", 60)}, testPrefs())
	require.NoError(t, err)
	assert.NotEqual(t, "too slow", out.Narrative)
}

func TestRun_UsesReasoningNarrativeWhenAvailable(t *testing.T) {
	reasoning := &capabilities.FakeReasoning{Narrative: "Busy morning, quiet afternoon."}
	stage := New(reasoning, time.Second)

	out, err := stage.Run(context.Background(), []contracts.Job{job("j1", "repair", contracts.PriorityLow, "c1", 60)}, testPrefs())
	require.NoError(t, err)
	assert.Equal(t, "Busy morning, quiet afternoon.", out.Narrative)
}

func TestRun_ClassCounts(t *testing.T) {
	jobs := []contracts.Job{
		job("e1", "burst_pipe", contracts.PriorityLow, "c1", 30),
		job("d1", "install", contracts.PriorityUrgent, "c2", 30),
		job("m1", "maintenance", contracts.PriorityLow, "c3", 30),
		job("m2", "maintenance", contracts.PriorityLow, "c4", 30),
	}
	stage := New(&capabilities.FakeReasoning{}, time.Second)

	out, err := stage.Run(context.Background(), jobs, testPrefs())
	require.NoError(t, err)
	assert.Equal(t, 1, out.ClassCounts[contracts.ClassEmergency])
	assert.Equal(t, 1, out.ClassCounts[contracts.ClassDemand])
	assert.Equal(t, 2, out.ClassCounts[contracts.ClassMaintenance])
}

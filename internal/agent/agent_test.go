package agent

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmind/internal/fingerprint"
)

func newSeeded(seed int64) *Agent {
	return New(fingerprint.NewSeeder(&seed))
}

func TestNewAgent(t *testing.T) {
	a := New(nil)
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, StateIdle, a.State())
	assert.Empty(t, a.Knowledge())
	assert.Equal(t, Metrics{}, a.Metrics())
}

func TestPerceive(t *testing.T) {
	a := New(nil)
	p := a.Perceive("hello world")

	assert.Equal(t, 11.0, p.Features[FeatureLength])
	assert.Less(t, p.Features[FeatureHash], 100.0)
	assert.InDelta(t, charMean("hello worl"), p.Features[FeatureCharMean], 1e-12)
	assert.InDelta(t, 0.11, p.Importance, 1e-12)
	assert.Equal(t, PerceptionConfidence, p.Confidence)

	// With a 0.5 prior the posterior equals L.
	assert.InDelta(t, 1/(1+math.Exp(-11)), p.Beliefs[FeatureLength], 1e-12)
	assert.Equal(t, 1, a.Metrics().Perceptions)
	assert.Equal(t, StateIdle, a.State())
}

func TestPerceiveEmptyAndLong(t *testing.T) {
	a := New(nil)
	p := a.Perceive("")
	assert.Equal(t, 0.0, p.Features[FeatureCharMean])
	assert.InDelta(t, 0.5, p.Beliefs[FeatureLength], 1e-12)

	long := a.Perceive(fmt.Sprintf("%0200d", 0))
	assert.Equal(t, 1.0, long.Importance)
}

func TestBeliefUpdateIsBayesian(t *testing.T) {
	a := New(nil)
	a.Perceive("")
	a.Perceive("")
	// L = sigmoid(0) = 0.5 leaves the prior unchanged.
	assert.InDelta(t, 0.5, a.Beliefs()[FeatureLength], 1e-12)

	a.Perceive("a")
	l := 1 / (1 + math.Exp(-1))
	assert.InDelta(t, 0.5*l/(0.5*l+0.5*(1-l)), a.Beliefs()[FeatureLength], 1e-12)
}

func TestComplexityOf(t *testing.T) {
	assert.Equal(t, ComplexitySimple, ComplexityOf("short"))
	assert.Equal(t, ComplexityModerate, ComplexityOf("exactly 10"))
	assert.Equal(t, ComplexityComplex, ComplexityOf(fmt.Sprintf("%0100d", 0)))
}

func TestReason(t *testing.T) {
	a := New(nil)
	for i := 0; i < 7; i++ {
		a.AddKnowledge(fmt.Sprintf("fact-%d", i), "routing tables decay")
	}
	a.AddKnowledge("other", "unrelated")

	r := a.Reason("routing")
	assert.Equal(t, ComplexitySimple, r.Complexity)
	assert.Len(t, r.Knowledge, MaxRetrieved)
	assert.Equal(t, "fact-0", r.Knowledge[0].Key)
	assert.InDelta(t, math.Min(1, float64(len(r.Solution))/50), r.Quality, 1e-12)
	assert.InDelta(t, 0.5+r.Quality*0.5, r.Confidence, 1e-12)

	r = a.Reason("how do routing tables decay over time")
	assert.Equal(t, ComplexityModerate, r.Complexity)
	assert.Empty(t, r.Knowledge)
	assert.Equal(t, 2, a.Metrics().Reasonings)
}

func TestDecideEmpty(t *testing.T) {
	a := New(nil)
	d := a.Decide(nil)
	assert.Equal(t, -1, d.Index)
	assert.Equal(t, "", d.Choice)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Equal(t, 0, a.Metrics().Decisions)
}

func TestDecideScoring(t *testing.T) {
	a := newSeeded(1)
	a.AddGoal(Goal{Description: "ship the release", Priority: 1})

	d := a.Decide([]string{"ship the release", "delete and destroy everything"})
	require.Len(t, d.Scores, 2)

	s0, s1 := d.Scores[0], d.Scores[1]
	assert.Equal(t, 1.0, s0.Alignment)
	assert.Equal(t, 0.0, s0.Risk)
	assert.Equal(t, 0.0, s1.Alignment)
	assert.Equal(t, 0.5, s1.Risk)
	for _, s := range d.Scores {
		assert.InDelta(t, (s.Alignment+s.Utility+1-s.Risk)/3, s.Score, 1e-12)
	}
	// Alignment and safety outweigh any utility difference.
	assert.Equal(t, 0, d.Index)
	assert.Equal(t, "ship the release", d.Choice)
	assert.Equal(t, s0.Score, d.Confidence)
}

func TestDecideTiesPickLowestIndex(t *testing.T) {
	a := New(nil)
	d := a.Decide([]string{"same", "same", "same"})
	assert.Equal(t, 0, d.Index)
}

func TestDecideUtilityIsSeeded(t *testing.T) {
	opts := []string{"alpha", "beta", "gamma", "delta"}
	x := newSeeded(7).Decide(opts)
	y := newSeeded(7).Decide(opts)
	assert.Equal(t, x.Scores, y.Scores)
	for _, s := range x.Scores {
		assert.GreaterOrEqual(t, s.Utility, 0.0)
		assert.Less(t, s.Utility, 1.0)
	}
}

func TestRiskCapped(t *testing.T) {
	assert.Equal(t, 1.0, risk("delete destroy drop kill force"))
	assert.Equal(t, 0.25, risk("Unsafe move"))
}

func TestGoalsSortedByPriority(t *testing.T) {
	a := New(nil)
	a.AddGoal(Goal{Description: "low", Priority: 0.1})
	a.AddGoal(Goal{Description: "high", Priority: 0.9})
	a.AddGoal(Goal{Description: "mid-a", Priority: 0.5})
	a.AddGoal(Goal{Description: "mid-b", Priority: 0.5})

	var got []string
	for _, g := range a.Goals() {
		got = append(got, g.Description)
	}
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, got)
}

func TestPlan(t *testing.T) {
	a := New(nil)
	cases := []struct {
		desc  string
		steps int
	}{
		{"short", 2},
		{fmt.Sprintf("%060d", 0), 3},
		{fmt.Sprintf("%0500d", 0), 5},
	}
	for _, tc := range cases {
		steps := a.Plan(Goal{Description: tc.desc, Priority: 1})
		require.Len(t, steps, tc.steps)
		for i := 1; i < len(steps); i++ {
			assert.Equal(t, i+1, steps[i].Order)
			assert.Less(t, steps[i].Priority, steps[i-1].Priority)
		}
	}
	assert.Equal(t, 3, a.Metrics().Plans)
}

func TestLearn(t *testing.T) {
	a := New(nil)
	first := a.Learn(Experience{Input: "1,2", Outcome: "3", Success: true})
	second := a.Learn(Experience{Input: "x", Outcome: "timeout"})

	assert.Equal(t, "lesson-1", first.Key)
	assert.Equal(t, "lesson-2", second.Key)
	assert.Equal(t, SourceDerived, first.Source)
	assert.Contains(t, second.Value, "failed with")

	m := a.Metrics()
	assert.Equal(t, 2, m.LearningIterations)
	assert.Equal(t, 1, m.Successes)
	assert.Equal(t, 1, m.Failures)
	assert.Len(t, a.Knowledge(), 2)
}

func TestRestoreKnowledgeContinuesNumbering(t *testing.T) {
	a := New(nil)
	a.Learn(Experience{Input: "a", Outcome: "b", Success: true})
	a.AddKnowledge("fact", "value")
	items := a.Knowledge()

	b := New(nil)
	b.RestoreKnowledge(items)
	assert.Equal(t, items, b.Knowledge())
	assert.Equal(t, "lesson-2", b.Learn(Experience{Input: "c", Outcome: "d"}).Key)
}

func TestHistoryIsBounded(t *testing.T) {
	a := New(nil)
	for i := 0; i < HistorySize+25; i++ {
		a.Perceive(fmt.Sprint(i))
	}
	h := a.History()
	require.Len(t, h, HistorySize)
	assert.Equal(t, "25", h[0].Input)
	assert.NotEmpty(t, h[0].ID)

	a.Reset()
	assert.Empty(t, a.History())
	assert.Empty(t, a.Beliefs())
	assert.Equal(t, HistorySize+25, a.Metrics().Perceptions)
}

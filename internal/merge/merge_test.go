package merge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorhq/conductor/internal/catalog"
	"github.com/conductorhq/conductor/internal/merge"
	"github.com/conductorhq/conductor/internal/state"
)

func completedFeature(id, branch, prURL string) state.Feature {
	now := time.Now().UTC()
	return state.Feature{ID: id, Status: state.StatusCompleted, CompletedAt: &now, Branch: branch, PRURL: prURL}
}

func TestPlanLinearChain(t *testing.T) {
	cat := &catalog.Catalog{Features: []catalog.Feature{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"B"}},
	}}
	doc := state.Document{Features: []state.Feature{
		completedFeature("C", "feature/C", "https://pr/3"),
		completedFeature("A", "feature/A", "https://pr/1"),
		completedFeature("B", "feature/B", "https://pr/2"),
	}}

	plan, err := merge.Plan(cat, doc)
	require.NoError(t, err)
	ids := make([]string, len(plan.Order))
	for i, e := range plan.Order {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)
}

func TestPlanTieBreakByID(t *testing.T) {
	cat := &catalog.Catalog{Features: []catalog.Feature{
		{ID: "z"}, {ID: "a"}, {ID: "m"},
	}}
	doc := state.Document{Features: []state.Feature{
		completedFeature("z", "feature/z", ""),
		completedFeature("a", "feature/a", ""),
		completedFeature("m", "feature/m", ""),
	}}

	plan, err := merge.Plan(cat, doc)
	require.NoError(t, err)
	ids := make([]string, len(plan.Order))
	for i, e := range plan.Order {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"a", "m", "z"}, ids)
}

func TestPlanIgnoresDependenciesOutsideCompletedSet(t *testing.T) {
	cat := &catalog.Catalog{Features: []catalog.Feature{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
	}}
	// Only B is completed; A is still pending. B's dependency on A is
	// restricted away since A is outside the completed set S.
	doc := state.Document{Features: []state.Feature{
		completedFeature("B", "feature/B", ""),
		{ID: "A", Status: state.StatusPending},
	}}

	plan, err := merge.Plan(cat, doc)
	require.NoError(t, err)
	require.Len(t, plan.Order, 1)
	assert.Equal(t, "B", plan.Order[0].ID)
}

func TestPlanDetectsCycle(t *testing.T) {
	cat := &catalog.Catalog{Features: []catalog.Feature{
		{ID: "A", DependsOn: []string{"B"}},
		{ID: "B", DependsOn: []string{"A"}},
	}}
	doc := state.Document{Features: []state.Feature{
		completedFeature("A", "feature/A", ""),
		completedFeature("B", "feature/B", ""),
	}}

	_, err := merge.Plan(cat, doc)
	require.Error(t, err)
	var cycleErr *merge.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"A", "B"}, cycleErr.Residual)
}

func TestDocumentRendersManualMergeStanzaWithoutPR(t *testing.T) {
	plan := &merge.Plan{Order: []merge.PlanEntry{
		{ID: "A", Branch: "feature/A", PRURL: "https://pr/1"},
		{ID: "B", Branch: "feature/B", PRURL: ""},
	}}
	doc := plan.Document()
	assert.Contains(t, doc, "https://pr/1")
	assert.Contains(t, doc, "No PR recorded")
}

func TestPlanEmptyCompletedSet(t *testing.T) {
	cat := &catalog.Catalog{Features: []catalog.Feature{{ID: "A"}}}
	doc := state.Document{Features: []state.Feature{{ID: "A", Status: state.StatusPending}}}

	plan, err := merge.Plan(cat, doc)
	require.NoError(t, err)
	assert.Empty(t, plan.Order)
}

func TestPlanCoverageReportsFullyCompletedIntegrationTest(t *testing.T) {
	cat := &catalog.Catalog{
		Features: []catalog.Feature{{ID: "A"}, {ID: "B"}},
		IntegrationTests: []catalog.IntegrationTest{
			{Name: "checkout-flow", FeatureIDs: []string{"A", "B"}},
		},
	}
	doc := state.Document{Features: []state.Feature{
		completedFeature("A", "feature/A", ""),
		completedFeature("B", "feature/B", ""),
	}}

	plan, err := merge.Plan(cat, doc)
	require.NoError(t, err)
	require.Len(t, plan.Coverage, 1)
	assert.Equal(t, "checkout-flow", plan.Coverage[0].Name)
	assert.True(t, plan.Coverage[0].Covered)
	assert.Empty(t, plan.Coverage[0].Missing)
	assert.Contains(t, plan.Document(), "checkout-flow: covered")
}

func TestPlanCoverageReportsMissingFeaturesWhenNotAllCompleted(t *testing.T) {
	cat := &catalog.Catalog{
		Features: []catalog.Feature{{ID: "A"}, {ID: "B"}},
		IntegrationTests: []catalog.IntegrationTest{
			{Name: "checkout-flow", FeatureIDs: []string{"A", "B"}},
		},
	}
	doc := state.Document{Features: []state.Feature{
		completedFeature("A", "feature/A", ""),
		{ID: "B", Status: state.StatusPending},
	}}

	plan, err := merge.Plan(cat, doc)
	require.NoError(t, err)
	require.Len(t, plan.Coverage, 1)
	assert.False(t, plan.Coverage[0].Covered)
	assert.Equal(t, []string{"B"}, plan.Coverage[0].Missing)
	assert.Contains(t, plan.Document(), "checkout-flow: missing B")
}

package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSummaryAndFetch(t *testing.T) {
	store := newTestStore(t)
	summaries := NewSummaryStore(store)
	ctx := context.Background()

	id, err := summaries.CreateSummary(ctx, CreateSummaryParams{
		SessionID:    "sess-1",
		Project:      "memory",
		Request:      "fix the flaky shutdown test",
		Investigated: "worker close ordering",
		Learned:      "queue must drain before the store closes",
		Completed:    "reordered Close",
		NextSteps:    "add a drain timeout",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	recent, err := summaries.GetRecentSummaries(ctx, "memory", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "sess-1", recent[0].SessionID)
	assert.Equal(t, "fix the flaky shutdown test", recent[0].Request.String)
	assert.Equal(t, "add a drain timeout", recent[0].NextSteps.String)

	bySession, err := summaries.GetSummariesBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, id, bySession[0].ID)
}

func TestCreateSummaryValidation(t *testing.T) {
	store := newTestStore(t)
	summaries := NewSummaryStore(store)
	ctx := context.Background()

	_, err := summaries.CreateSummary(ctx, CreateSummaryParams{Project: "memory"})
	assert.Error(t, err)

	_, err = summaries.CreateSummary(ctx, CreateSummaryParams{SessionID: "sess-1"})
	assert.Error(t, err)
}

func TestSummaryExists(t *testing.T) {
	store := newTestStore(t)
	summaries := NewSummaryStore(store)
	ctx := context.Background()

	_, err := summaries.CreateSummary(ctx, CreateSummaryParams{
		SessionID: "sess-1",
		Project:   "memory",
		Request:   "anything",
	})
	require.NoError(t, err)

	stored, err := summaries.GetRecentSummaries(ctx, "memory", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	exists, err := summaries.SummaryExists(ctx, "sess-1", "memory", stored[0].CreatedAtEpoch)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = summaries.SummaryExists(ctx, "sess-1", "memory", stored[0].CreatedAtEpoch+1)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetRecentSummariesScopedToProject(t *testing.T) {
	store := newTestStore(t)
	summaries := NewSummaryStore(store)
	ctx := context.Background()

	for _, project := range []string{"memory", "memory", "elsewhere"} {
		_, err := summaries.CreateSummary(ctx, CreateSummaryParams{
			SessionID: "sess-1",
			Project:   project,
			Request:   "work on " + project,
		})
		require.NoError(t, err)
	}

	recent, err := summaries.GetRecentSummaries(ctx, "memory", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

package engine

import (
	"context"
	"sort"
	"time"

	"github.com/thebtf/kiro-memory/internal/scoring"
	"github.com/thebtf/kiro-memory/internal/search"
	"github.com/thebtf/kiro-memory/pkg/models"
)

// Context assembly defaults. The candidate pool is capped at
// ContextCandidateLimit rows; the packed result stays within
// DefaultTokenBudget estimated tokens.
const (
	ContextCandidateLimit = 30
	DefaultTokenBudget    = 2000
	ContextSummaryCount   = 5
)

// SessionContext is the raw material injected at session start.
type SessionContext struct {
	Project            string                `json:"project"`
	RecentObservations []*models.Observation `json:"recent_observations"`
	RecentSummaries    []*models.Summary     `json:"recent_summaries"`
	RecentPrompts      []*models.Prompt      `json:"recent_prompts"`
}

// GetContext returns the project's recent activity for session-start
// injection.
func (e *Engine) GetContext(ctx context.Context, project string) (*SessionContext, error) {
	observations, err := e.observations.GetRecentObservations(ctx, project, 10)
	if err != nil {
		return nil, err
	}
	summaries, err := e.summaries.GetRecentSummaries(ctx, project, ContextSummaryCount)
	if err != nil {
		return nil, err
	}
	prompts, err := e.prompts.GetRecentPromptsByProject(ctx, project, 10)
	if err != nil {
		return nil, err
	}

	return &SessionContext{
		Project:            project,
		RecentObservations: observations,
		RecentSummaries:    summaries,
		RecentPrompts:      prompts,
	}, nil
}

// ContextItem is one packed observation with its score and token cost.
type ContextItem struct {
	Observation *models.Observation `json:"observation"`
	Score       float64             `json:"score"`
	Tokens      int64               `json:"tokens"`
}

// SmartContext is a token-budgeted selection of the project's memory.
// Knowledge observations are packed ahead of activity observations so
// durable facts survive a tight budget.
type SmartContext struct {
	Project     string            `json:"project"`
	Query       string            `json:"query,omitempty"`
	Knowledge   []ContextItem     `json:"knowledge"`
	Activity    []ContextItem     `json:"activity"`
	Summaries   []*models.Summary `json:"summaries"`
	TokensUsed  int64             `json:"tokens_used"`
	TokenBudget int64             `json:"token_budget"`
}

// SmartContextOptions tunes context assembly. Zero values take the
// defaults above.
type SmartContextOptions struct {
	Query       string
	TokenBudget int64
}

// BuildSmartContext assembles a token-budgeted context for a project.
// With a query the candidate pool comes from hybrid search; without one
// it is the most recent observations scored by recency and project match.
func (e *Engine) BuildSmartContext(ctx context.Context, project string, opts SmartContextOptions) (*SmartContext, error) {
	budget := opts.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	candidates, err := e.contextCandidates(ctx, project, opts.Query)
	if err != nil {
		return nil, err
	}

	var knowledge, activity []ContextItem
	for _, c := range candidates {
		if models.IsKnowledgeType(c.Observation.Type) {
			knowledge = append(knowledge, c)
		} else {
			activity = append(activity, c)
		}
	}

	result := &SmartContext{
		Project:     project,
		Query:       opts.Query,
		TokenBudget: budget,
	}
	result.Knowledge = packItems(knowledge, budget, &result.TokensUsed)
	result.Activity = packItems(activity, budget, &result.TokensUsed)

	summaries, err := e.summaries.GetRecentSummaries(ctx, project, ContextSummaryCount)
	if err != nil {
		return nil, err
	}
	result.Summaries = summaries

	return result, nil
}

// contextCandidates builds the scored candidate pool.
func (e *Engine) contextCandidates(ctx context.Context, project, query string) ([]ContextItem, error) {
	if query != "" {
		results, err := e.searcher.Search(ctx, query, search.Options{
			Project: project,
			Limit:   ContextCandidateLimit,
		})
		if err != nil {
			return nil, err
		}
		items := make([]ContextItem, 0, len(results))
		for _, r := range results {
			items = append(items, ContextItem{
				Observation: r.Observation,
				Score:       r.Score,
				Tokens:      observationTokens(r.Observation),
			})
		}
		return items, nil
	}

	recent, err := e.observations.GetRecentObservations(ctx, project, ContextCandidateLimit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]ContextItem, 0, len(recent))
	for _, obs := range recent {
		score := scoring.Score(scoring.ContextWeights, scoring.Signals{
			CreatedAtEpoch: obs.CreatedAtEpoch,
			Project:        obs.Project,
			Type:           obs.Type,
		}, project, now)
		items = append(items, ContextItem{
			Observation: obs,
			Score:       score,
			Tokens:      observationTokens(obs),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	return items, nil
}

// packItems greedily admits items in score order, stopping at the first
// item that would push the shared budget over; lower-scored items never
// leapfrog an oversized one. used accumulates across calls so a later
// family packs into whatever the earlier one left.
func packItems(items []ContextItem, budget int64, used *int64) []ContextItem {
	var packed []ContextItem
	for _, item := range items {
		if *used+item.Tokens > budget {
			break
		}
		*used += item.Tokens
		packed = append(packed, item)
	}
	return packed
}

// observationTokens estimates an observation's injection cost.
func observationTokens(obs *models.Observation) int64 {
	content := obs.Text.String
	if content == "" {
		content = obs.Narrative.String
	}
	return int64((len(obs.Title) + len(content) + 3) / 4)
}

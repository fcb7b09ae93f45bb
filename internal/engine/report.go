package engine

import (
	"context"
	"fmt"
	"time"
)

// ReportPeriod names a relative reporting window.
type ReportPeriod string

const (
	PeriodDay   ReportPeriod = "day"
	PeriodWeek  ReportPeriod = "week"
	PeriodMonth ReportPeriod = "month"
)

// ReportOptions selects the reporting window: either a named period or an
// explicit epoch-millisecond range. An explicit range wins over Period.
type ReportOptions struct {
	Project    string
	Period     ReportPeriod
	StartEpoch int64
	EndEpoch   int64
}

// ProjectActivity is one project's share of the reporting window.
type ProjectActivity struct {
	Project      string `json:"project"`
	Observations int64  `json:"observations"`
}

// Report aggregates activity over the window.
type Report struct {
	Project         string            `json:"project,omitempty"`
	StartEpoch      int64             `json:"start_epoch"`
	EndEpoch        int64             `json:"end_epoch"`
	Observations    int64             `json:"observations"`
	Sessions        int64             `json:"sessions"`
	Prompts         int64             `json:"prompts"`
	Summaries       int64             `json:"summaries"`
	ByType          map[string]int64  `json:"by_type"`
	ByCategory      map[string]int64  `json:"by_category"`
	BusiestProjects []ProjectActivity `json:"busiest_projects,omitempty"`
}

// resolveWindow converts the options into a concrete epoch range.
func resolveWindow(opts ReportOptions, now time.Time) (int64, int64, error) {
	if opts.StartEpoch > 0 || opts.EndEpoch > 0 {
		start, end := opts.StartEpoch, opts.EndEpoch
		if end <= 0 {
			end = now.UnixMilli()
		}
		if start >= end {
			return 0, 0, fmt.Errorf("report range start must precede end")
		}
		return start, end, nil
	}

	var span time.Duration
	switch opts.Period {
	case PeriodDay, "":
		span = 24 * time.Hour
	case PeriodWeek:
		span = 7 * 24 * time.Hour
	case PeriodMonth:
		span = 30 * 24 * time.Hour
	default:
		return 0, 0, fmt.Errorf("unknown report period %q", opts.Period)
	}
	end := now.UnixMilli()
	return end - span.Milliseconds(), end, nil
}

// GenerateReport aggregates observation, session, prompt, and summary
// activity for the window, broken down by type and auto category.
func (e *Engine) GenerateReport(ctx context.Context, opts ReportOptions) (*Report, error) {
	start, end, err := resolveWindow(opts, time.Now())
	if err != nil {
		return nil, err
	}

	report := &Report{
		Project:    opts.Project,
		StartEpoch: start,
		EndEpoch:   end,
		ByType:     map[string]int64{},
		ByCategory: map[string]int64{},
	}

	projectFilter := ""
	args := []interface{}{start, end}
	if opts.Project != "" {
		projectFilter = " AND project = ?"
		args = append(args, opts.Project)
	}

	rows, err := e.store.QueryContext(ctx, `
		SELECT type, auto_category, COUNT(*)
		FROM observations
		WHERE created_at_epoch >= ? AND created_at_epoch < ?`+projectFilter+`
		GROUP BY type, auto_category
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var obsType, category string
		var count int64
		if err := rows.Scan(&obsType, &category, &count); err != nil {
			return nil, err
		}
		report.ByType[obsType] += count
		report.ByCategory[category] += count
		report.Observations += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := e.store.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE started_at_epoch >= ? AND started_at_epoch < ?`+projectFilter,
		args...,
	).Scan(&report.Sessions); err != nil {
		return nil, err
	}

	if err := e.store.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM session_summaries
		WHERE created_at_epoch >= ? AND created_at_epoch < ?`+projectFilter,
		args...,
	).Scan(&report.Summaries); err != nil {
		return nil, err
	}

	promptFilter := ""
	promptArgs := []interface{}{start, end}
	if opts.Project != "" {
		promptFilter = ` AND content_session_id IN (
			SELECT external_session_id FROM sessions WHERE project = ?)`
		promptArgs = append(promptArgs, opts.Project)
	}
	if err := e.store.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_prompts
		WHERE created_at_epoch >= ? AND created_at_epoch < ?`+promptFilter,
		promptArgs...,
	).Scan(&report.Prompts); err != nil {
		return nil, err
	}

	if opts.Project == "" {
		busiest, err := e.busiestProjects(ctx, start, end, 5)
		if err != nil {
			return nil, err
		}
		report.BusiestProjects = busiest
	}

	return report, nil
}

func (e *Engine) busiestProjects(ctx context.Context, start, end int64, limit int) ([]ProjectActivity, error) {
	rows, err := e.store.QueryContext(ctx, `
		SELECT project, COUNT(*) AS n
		FROM observations
		WHERE created_at_epoch >= ? AND created_at_epoch < ?
		GROUP BY project
		ORDER BY n DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectActivity
	for rows.Next() {
		var p ProjectActivity
		if err := rows.Scan(&p.Project, &p.Observations); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects, steps, and subtasks
// using plainto_tsquery and ts_rank, with ts_headline for snippets. Results
// are restricted to q.ProjectIDs.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.ProjectIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	placeholders := make([]string, len(q.ProjectIDs))
	for i, id := range q.ProjectIDs {
		placeholders[i] = fmt.Sprintf("$%d", argN)
		args = append(args, id)
		argN++
	}
	scope := "(" + strings.Join(placeholders, ", ") + ")"

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE p.fts @@ %s AND p.id IN %s`, tsQuery, tsQuery, tsQuery, scope))
	}

	if q.FilterType == "" || q.FilterType == ResultStep {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'step'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(s.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.project_id,
				ts_rank(s.fts, %s) AS rank
			FROM steps s
			WHERE s.fts @@ %s AND s.project_id IN %s`, tsQuery, tsQuery, tsQuery, scope))
	}

	if q.FilterType == "" || q.FilterType == ResultSubtask {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'subtask'::text AS type, st.id, st.title,
				ts_headline('english', st.title, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.project_id,
				ts_rank(st.fts, %s) AS rank
			FROM subtasks st
			JOIN steps s ON s.id = st.step_id
			WHERE st.fts @@ %s AND s.project_id IN %s`, tsQuery, tsQuery, tsQuery, scope))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []StepRecord, []SubtaskRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(description, '')
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var r ProjectRecord
		if err := projectRows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		r.ProjectID = r.ID
		projects = append(projects, r)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	stepRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), project_id
		FROM steps
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load steps: %w", err)
	}
	defer stepRows.Close()

	steps := make([]StepRecord, 0)
	for stepRows.Next() {
		var r StepRecord
		if err := stepRows.Scan(&r.ID, &r.Title, &r.Description, &r.ProjectID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, r)
	}
	if err := stepRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate steps: %w", err)
	}

	subtaskRows, err := p.db.QueryContext(ctx, `
		SELECT st.id, st.title, st.step_id, s.project_id
		FROM subtasks st
		JOIN steps s ON s.id = st.step_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load subtasks: %w", err)
	}
	defer subtaskRows.Close()

	subtasks := make([]SubtaskRecord, 0)
	for subtaskRows.Next() {
		var r SubtaskRecord
		if err := subtaskRows.Scan(&r.ID, &r.Title, &r.StepID, &r.ProjectID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan subtask: %w", err)
		}
		subtasks = append(subtasks, r)
	}
	if err := subtaskRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate subtasks: %w", err)
	}

	return projects, steps, subtasks, nil
}

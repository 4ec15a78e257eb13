package logstore

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/tinytelemetry/burrow/internal/model"
	"github.com/tinytelemetry/burrow/internal/sqlutil"
)

// patternPrefixLen is how many characters of a message take part in
// pattern matching.
const patternPrefixLen = 100

var digitRun = regexp.MustCompile(`[0-9]+`)

// NormalizePattern is the Go form of the SQL pattern key: the first 100
// characters with every run of digits replaced by "*".
func NormalizePattern(message string) string {
	runes := []rune(message)
	if len(runes) > patternPrefixLen {
		runes = runes[:patternPrefixLen]
	}
	return digitRun.ReplaceAllString(string(runes), "*")
}

type patternRow struct {
	Pattern       string    `db:"pattern"`
	Count         int64     `db:"cnt"`
	Level         string    `db:"level"`
	AppName       string    `db:"app_name"`
	FirstSeen     time.Time `db:"first_seen"`
	LastSeen      time.Time `db:"last_seen"`
	SampleMessage string    `db:"sample_message"`
}

// GetPatterns groups recent messages by normalized pattern, level and app,
// keeping groups seen at least MinCount times, most frequent first.
func (r *Repository) GetPatterns(ctx context.Context, q model.PatternQuery) ([]model.LogPattern, error) {
	hours := q.Hours
	if hours <= 0 {
		hours = model.DefaultPatternHours
	}
	minCount := q.MinCount
	if minCount <= 0 {
		minCount = model.DefaultPatternMinCount
	}
	limit := q.Limit
	if limit <= 0 {
		limit = model.DefaultPatternLimit
	}
	limit = sqlutil.SafeInt(limit, 1, model.MaxPageSize)

	b := sqlutil.MustNew(table).WhereOp("timestamp", ">", r.now().Add(-time.Duration(hours)*time.Hour))
	if err := whereLevels(b, q.Level, q.Levels); err != nil {
		return nil, err
	}
	if q.AppName != "" {
		b.Where("app_name", q.AppName)
	}
	where, args := b.BuildWhere()

	query := `SELECT regexp_replace(substring(message, 1, ` + strconv.Itoa(patternPrefixLen) + `), '[0-9]+', '*', 'g') AS pattern,
		count(*) AS cnt,
		level,
		app_name,
		min(timestamp) AS first_seen,
		max(timestamp) AS last_seen,
		any_value(message) AS sample_message
	FROM logs` + where + `
	GROUP BY pattern, level, app_name
	HAVING count(*) >= ` + strconv.Itoa(minCount) + `
	ORDER BY cnt DESC, pattern, app_name
	LIMIT ` + strconv.Itoa(limit)

	var rows []patternRow
	if err := r.store.Select(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	patterns := make([]model.LogPattern, 0, len(rows))
	for _, row := range rows {
		level, err := model.ParseLevel(row.Level)
		if err != nil {
			level = model.LevelInfo
		}
		patterns = append(patterns, model.LogPattern{
			Pattern:       row.Pattern,
			Count:         row.Count,
			Level:         level,
			AppName:       row.AppName,
			FirstSeen:     row.FirstSeen,
			LastSeen:      row.LastSeen,
			SampleMessage: row.SampleMessage,
		})
	}
	return patterns, nil
}

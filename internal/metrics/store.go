package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"ai-food-diary/internal/food"
	"ai-food-diary/internal/shared"
)

// ExecutionMetric records metadata for a single model call.
type ExecutionMetric struct {
	AgentName        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Timestamp        time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Record saves a metric to the database.
func (s *Store) Record(m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO execution_metrics (agent_name, model, prompt_tokens, completion_tokens, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.AgentName, m.Model, m.PromptTokens, m.CompletionTokens, m.LatencyMS, ts.Unix(),
	)
	return err
}

// RecordMeta records metrics directly from shared.AgentMeta. Calls without
// token usage are skipped.
func (s *Store) RecordMeta(meta shared.AgentMeta) error {
	if meta.Usage.Empty() {
		return nil
	}
	return s.Record(MapUsage(meta.AgentName, meta.Usage, meta.Latency))
}

// RecordResolution counts one ingredient resolved at tier.
func (s *Store) RecordResolution(tier food.Tier) error {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO resolution_events (tier, timestamp) VALUES (?, ?)`,
		string(tier), s.now().Unix(),
	)
	return err
}

// ObserveTier lets the Store act as the resolver's tier observer.
// Failures are logged, never returned to the pipeline.
func (s *Store) ObserveTier(tier food.Tier) {
	if err := s.RecordResolution(tier); err != nil {
		s.logger.Warn("failed to record resolution tier", zap.String("tier", string(tier)), zap.Error(err))
	}
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
}

// GetDailyUsage retrieves usage for the last N days, newest first.
func (s *Store) GetDailyUsage(days int) ([]DailyUsage, error) {
	since := s.now().AddDate(0, 0, -days).Unix()
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT date(timestamp, 'unixepoch') AS day,
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COUNT(*)
		FROM execution_metrics
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// TierCount is how often a resolution tier was reached.
type TierCount struct {
	Tier  food.Tier
	Count int
}

// GetTierCounts returns resolution counts over the last N days, most frequent first.
func (s *Store) GetTierCounts(days int) ([]TierCount, error) {
	since := s.now().AddDate(0, 0, -days).Unix()
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT tier, COUNT(*) FROM resolution_events WHERE timestamp >= ? GROUP BY tier`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query tier counts: %w", err)
	}
	defer rows.Close()

	var results []TierCount
	for rows.Next() {
		var (
			tier string
			c    TierCount
		)
		if err := rows.Scan(&tier, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		c.Tier = food.Tier(tier)
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Tier < results[j].Tier
	})
	return results, nil
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(olderThanDays int) (int64, error) {
	threshold := s.now().AddDate(0, 0, -olderThanDays).Unix()


	var removed int64
	for _, table := range []string{"execution_metrics", "resolution_events"} {
		res, err := s.db.ExecContext(context.Background(),
			"DELETE FROM "+table+" WHERE timestamp < ?", threshold)
		if err != nil {
			return removed, fmt.Errorf("failed to clean %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// MapUsage helper to convert shared.TokenUsage to ExecutionMetric.
func MapUsage(agentName string, usage shared.TokenUsage, latency time.Duration) ExecutionMetric {
	return ExecutionMetric{
		AgentName:        agentName,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS statistics_meta (
	statistic_id TEXT PRIMARY KEY,
	name TEXT,
	unit_of_measurement TEXT NOT NULL,
	source TEXT NOT NULL,
	has_mean BOOLEAN NOT NULL,
	has_sum BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS statistics (
	statistic_id TEXT NOT NULL REFERENCES statistics_meta (statistic_id) ON DELETE CASCADE,
	start TIMESTAMPTZ NOT NULL,
	state DOUBLE PRECISION NOT NULL,
	sum DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (statistic_id, start)
);
`

type PostgresStatisticsStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ port.StatisticsStore = (*PostgresStatisticsStore)(nil)

func NewPostgresStatisticsStore(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*PostgresStatisticsStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStatisticsStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStatisticsStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate statistics schema: %w", err)
	}
	s.logger.Debug("statistics schema ready")
	return nil
}

func (s *PostgresStatisticsStore) Close() {
	s.pool.Close()
}

func (s *PostgresStatisticsStore) ChangeDuring(ctx context.Context, statisticId string, start, end time.Time) (float64, error) {
	var change float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(state), 0)
		FROM statistics
		WHERE statistic_id = $1 AND start >= $2 AND start < $3
	`, statisticId, start.UTC(), end.UTC()).Scan(&change)
	if err != nil {
		return 0, fmt.Errorf("failed to query change: %w", err)
	}
	return change, nil
}

func (s *PostgresStatisticsStore) LastSum(ctx context.Context, statisticId string) (float64, bool, error) {
	var sum float64
	err := s.pool.QueryRow(ctx, `
		SELECT sum FROM statistics
		WHERE statistic_id = $1
		ORDER BY start DESC
		LIMIT 1
	`, statisticId).Scan(&sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query last sum: %w", err)
	}
	return sum, true, nil
}

func (s *PostgresStatisticsStore) Import(ctx context.Context, metadata domain.StatisticMetadata, points []domain.StatisticPoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO statistics_meta (statistic_id, name, unit_of_measurement, source, has_mean, has_sum)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (statistic_id) DO UPDATE SET
			name = EXCLUDED.name,
			unit_of_measurement = EXCLUDED.unit_of_measurement,
			source = EXCLUDED.source,
			has_mean = EXCLUDED.has_mean,
			has_sum = EXCLUDED.has_sum
	`, metadata.StatisticId, nullString(metadata.Name), metadata.UnitOfMeasurement, metadata.Source, metadata.HasMean, metadata.HasSum)
	if err != nil {
		return fmt.Errorf("failed to upsert statistics metadata: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO statistics (statistic_id, start, state, sum)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (statistic_id, start) DO UPDATE SET state = EXCLUDED.state, sum = EXCLUDED.sum
		`, metadata.StatisticId, p.Start.UTC(), p.State, p.Sum)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to import statistics: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStatisticsStore) Points(ctx context.Context, statisticId string) ([]domain.StatisticPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start, state, sum FROM statistics
		WHERE statistic_id = $1
		ORDER BY start
	`, statisticId)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	points := make([]domain.StatisticPoint, 0)
	for rows.Next() {
		var p domain.StatisticPoint
		if err := rows.Scan(&p.Start, &p.State, &p.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan statistic: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

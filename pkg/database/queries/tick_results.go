package queries

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

type TickResultRepository struct {
	db *sql.DB
}

func NewTickResultRepository(db *sql.DB) *TickResultRepository {
	return &TickResultRepository{db: db}
}

// TickResultRecord is a stored tick result. Payload holds the exact JSON
// the tick emitted.
type TickResultRecord struct {
	ID          int             `json:"id"`
	TraceID     string          `json:"trace_id"`
	PoolID      string          `json:"pool_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Kind        string          `json:"kind"`
	Action      *string         `json:"action,omitempty"`
	Reason      string          `json:"reason"`
	NodeCount   *int            `json:"node_count,omitempty"`
	PendingPods *int            `json:"pending_pods,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

func NewTickResultRecord(result *models.TickResult) (*TickResultRecord, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tick result: %w", err)
	}

	rec := &TickResultRecord{
		TraceID:     result.TraceID,
		PoolID:      result.PoolID,
		Timestamp:   result.Timestamp,
		Kind:        string(result.Kind),
		Reason:      result.Body.Reason,
		NodeCount:   result.Body.NodeCount,
		PendingPods: result.Body.UnschedulablePodsCount,
		Payload:     payload,
	}
	if result.Body.Action != "" {
		action := result.Body.Action
		rec.Action = &action
	}
	return rec, nil
}

func (r *TickResultRepository) Insert(ctx context.Context, result *models.TickResult) (int, error) {
	rec, err := NewTickResultRecord(result)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO tick_results
			(trace_id, pool_id, timestamp, kind, action, reason, node_count, pending_pods, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int
	err = r.db.QueryRowContext(ctx, query,
		rec.TraceID,
		rec.PoolID,
		rec.Timestamp,
		rec.Kind,
		rec.Action,
		rec.Reason,
		rec.NodeCount,
		rec.PendingPods,
		[]byte(rec.Payload),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert tick result: %w", err)
	}

	result.ID = id
	return id, nil
}

// Recent returns the newest results first. An empty poolID matches every pool.
func (r *TickResultRepository) Recent(ctx context.Context, poolID string, limit int) ([]TickResultRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, trace_id, pool_id, timestamp, kind, action, reason, node_count, pending_pods, payload
		FROM tick_results
		WHERE ($1 = '' OR pool_id = $1)
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, poolID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]TickResultRecord, 0, limit)
	for rows.Next() {
		var rec TickResultRecord
		var payload []byte
		err := rows.Scan(
			&rec.ID, &rec.TraceID, &rec.PoolID, &rec.Timestamp, &rec.Kind,
			&rec.Action, &rec.Reason, &rec.NodeCount, &rec.PendingPods, &payload,
		)
		if err != nil {
			return nil, err
		}
		rec.Payload = payload
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *TickResultRepository) CountByKind(ctx context.Context, poolID string, since time.Time) (map[string]int, error) {
	query := `
		SELECT kind, COUNT(*)
		FROM tick_results
		WHERE pool_id = $1 AND timestamp >= $2
		GROUP BY kind`

	rows, err := r.db.QueryContext(ctx, query, poolID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}

	return counts, rows.Err()
}

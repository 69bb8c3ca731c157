package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pixelforge/remedy/internal/types"
)

// RegisterInstance registers a worker instance (upsert on instance_id)
func (s *SQLiteStorage) RegisterInstance(ctx context.Context, instance *types.WorkerInstance) error {
	if err := instance.Validate(); err != nil {
		return fmt.Errorf("invalid worker instance: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_instances (
			instance_id, hostname, pid, status, started_at, last_heartbeat, version
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			hostname = excluded.hostname,
			pid = excluded.pid,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			version = excluded.version
	`,
		instance.InstanceID, instance.Hostname, instance.PID, instance.Status,
		instance.StartedAt, instance.LastHeartbeat, instance.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to register worker instance: %w", err)
	}
	return nil
}

// UpdateHeartbeat updates the last_heartbeat timestamp for a worker instance
func (s *SQLiteStorage) UpdateHeartbeat(ctx context.Context, instanceID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE worker_instances SET last_heartbeat = ? WHERE instance_id = ?
	`, time.Now(), instanceID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("worker instance not found: %s", instanceID)
	}
	return nil
}

// GetActiveInstances returns all worker instances with status='running'
func (s *SQLiteStorage) GetActiveInstances(ctx context.Context) ([]*types.WorkerInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, hostname, pid, status, started_at, last_heartbeat, version
		FROM worker_instances
		WHERE status = 'running'
		ORDER BY last_heartbeat DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active instances: %w", err)
	}
	defer rows.Close()

	var instances []*types.WorkerInstance
	for rows.Next() {
		instance := &types.WorkerInstance{}
		err := rows.Scan(
			&instance.InstanceID, &instance.Hostname, &instance.PID,
			&instance.Status, &instance.StartedAt, &instance.LastHeartbeat,
			&instance.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker instance: %w", err)
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worker instances: %w", err)
	}

	return instances, nil
}

// MarkInstanceStopped marks a worker instance as stopped
func (s *SQLiteStorage) MarkInstanceStopped(ctx context.Context, instanceID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE worker_instances SET status = 'stopped', last_heartbeat = ?
		WHERE instance_id = ?
	`, time.Now(), instanceID)
	if err != nil {
		return fmt.Errorf("failed to mark instance stopped: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("worker instance not found: %s", instanceID)
	}
	return nil
}

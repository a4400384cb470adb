package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluxvault/fluxd/internal/types"
)

// SaveRebalanceSnapshot persists the outcome of one rebalance batch.
func SaveRebalanceSnapshot(snapshot types.RebalanceSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	actionsJSON, err := json.Marshal(snapshot.Actions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal actions: %w", err)
	}
	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal positions: %w", err)
	}

	query := `
		INSERT INTO rebalance_snapshots (
			batch_id, snapshot_timestamp, exchange_rate,
			value_before, value_after, share_supply,
			actions, positions, success, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.BatchID, snapshot.Timestamp, snapshot.Rate,
		snapshot.ValueBefore, snapshot.ValueAfter, snapshot.ShareSupply,
		actionsJSON, positionsJSON, snapshot.Success, snapshot.Message,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save rebalance snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("batch_id", snapshot.BatchID).
		Bool("success", snapshot.Success).
		Msg("Rebalance snapshot saved to database")

	return snapshotID, nil
}

// GetRecentRebalanceSnapshots returns the most recent snapshots, newest first.
func GetRecentRebalanceSnapshots(limit int) ([]types.RebalanceSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, batch_id, snapshot_timestamp, exchange_rate,
			value_before, value_after, share_supply,
			actions, positions, success, message
		FROM rebalance_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.RebalanceSnapshot
	for rows.Next() {
		var snapshot types.RebalanceSnapshot
		var actionsJSON, positionsJSON []byte
		if err := rows.Scan(
			&snapshot.SnapshotID, &snapshot.BatchID, &snapshot.Timestamp, &snapshot.Rate,
			&snapshot.ValueBefore, &snapshot.ValueAfter, &snapshot.ShareSupply,
			&actionsJSON, &positionsJSON, &snapshot.Success, &snapshot.Message,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rebalance snapshot: %w", err)
		}
		if err := json.Unmarshal(actionsJSON, &snapshot.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions for snapshot %d: %w", snapshot.SnapshotID, err)
		}
		if err := json.Unmarshal(positionsJSON, &snapshot.Positions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal positions for snapshot %d: %w", snapshot.SnapshotID, err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating rebalance snapshots: %w", err)
	}

	return snapshots, nil
}

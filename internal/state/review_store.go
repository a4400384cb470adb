package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluxvault/fluxd/internal/types"
)

// SavePerformanceReview persists one committed performance review.
func SavePerformanceReview(review types.PerformanceReview) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO performance_reviews (
			review_timestamp, metric, high_watermark, fee_owed, pending_fee, share_supply
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING review_id;
	`

	var reviewID int64
	err := DB.QueryRow(
		query,
		review.Timestamp, review.Metric, review.HighWatermark,
		review.FeeOwed, review.PendingFee, review.ShareSupply,
	).Scan(&reviewID)
	if err != nil {
		return 0, fmt.Errorf("failed to save performance review: %w", err)
	}

	log.Info().
		Int64("review_id", reviewID).
		Str("metric", review.Metric).
		Str("high_watermark", review.HighWatermark).
		Msg("Performance review saved to database")

	return reviewID, nil
}

// GetRecentPerformanceReviews returns the most recent reviews, newest first.
func GetRecentPerformanceReviews(limit int) ([]types.PerformanceReview, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT review_id, review_timestamp, metric, high_watermark, fee_owed, pending_fee, share_supply
		FROM performance_reviews
		ORDER BY review_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance reviews: %w", err)
	}
	defer rows.Close()

	var reviews []types.PerformanceReview
	for rows.Next() {
		var review types.PerformanceReview
		if err := rows.Scan(
			&review.ReviewID, &review.Timestamp, &review.Metric,
			&review.HighWatermark, &review.FeeOwed, &review.PendingFee, &review.ShareSupply,
		); err != nil {
			return nil, fmt.Errorf("failed to scan performance review: %w", err)
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating performance reviews: %w", err)
	}

	return reviews, nil
}

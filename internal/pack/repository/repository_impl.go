package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) packdomain.Repository {
	return &repo{db: db}
}

func (r *repo) postgres() bool {
	return strings.EqualFold(r.db.Dialector.Name(), "postgres")
}

// ReserveUnit picks the oldest pack with units left and claims one via a
// conditional decrement. The RowsAffected check is the oversell guard: under
// concurrent callers only as many decrements succeed as there are units.
func (r *repo) ReserveUnit(ctx context.Context, res *packdomain.Reservation) (*packdomain.Reservation, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidateQuery := `SELECT id FROM packs
			 WHERE tenant_id = ? AND resource_type = ? AND remaining_units > 0
			 ORDER BY purchased_at ASC, id ASC`
		if r.postgres() {
			candidateQuery += ` FOR UPDATE SKIP LOCKED`
		}

		var candidates []snowflake.ID
		if err := tx.WithContext(ctx).Raw(candidateQuery, res.TenantID, res.ResourceType).
			Scan(&candidates).Error; err != nil {
			return err
		}

		var claimed snowflake.ID
		for _, packID := range candidates {
			result := tx.WithContext(ctx).Exec(
				`UPDATE packs
				 SET remaining_units = remaining_units - 1, updated_at = ?
				 WHERE id = ? AND remaining_units > 0`,
				res.CreatedAt,
				packID,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				claimed = packID
				break
			}
		}
		if claimed == 0 {
			return packdomain.ErrNoPackAvailable
		}

		res.PackID = claimed
		res.Status = packdomain.ReservationStatusPending
		return tx.WithContext(ctx).Create(res).Error
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *repo) ReleaseReservation(ctx context.Context, id snowflake.ID, now time.Time) (packdomain.ReleaseOutcome, error) {
	outcome := packdomain.ReleaseNoop
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := r.lockReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		if reservation == nil {
			return packdomain.ErrReservationNotFound
		}

		switch reservation.Status {
		case packdomain.ReservationStatusCommitted:
			return packdomain.ErrReleaseCommitted
		case packdomain.ReservationStatusReleased, packdomain.ReservationStatusCompensating:
			outcome = packdomain.ReleaseNoop
			return nil
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE reservations
			 SET status = ?, resolved_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			packdomain.ReservationStatusReleased,
			now,
			now,
			id,
			packdomain.ReservationStatusPending,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lost a race against a concurrent transition; re-read to decide.
			current, err := r.lockReservation(ctx, tx, id)
			if err != nil {
				return err
			}
			if current != nil && current.Status == packdomain.ReservationStatusCommitted {
				return packdomain.ErrReleaseCommitted
			}
			outcome = packdomain.ReleaseNoop
			return nil
		}

		outcome = packdomain.ReleaseApplied
		return tx.WithContext(ctx).Exec(
			`UPDATE packs
			 SET remaining_units = remaining_units + 1, updated_at = ?
			 WHERE id = ?`,
			now,
			reservation.PackID,
		).Error
	})
	if err != nil {
		return packdomain.ReleaseNoop, err
	}
	return outcome, nil
}

func (r *repo) CommitReservation(ctx context.Context, id snowflake.ID, now time.Time) (packdomain.CommitOutcome, error) {
	outcome := packdomain.CommitNoop
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := r.lockReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		if reservation == nil {
			return packdomain.ErrReservationNotFound
		}

		switch reservation.Status {
		case packdomain.ReservationStatusCommitted:
			outcome = packdomain.CommitNoop
			return nil
		case packdomain.ReservationStatusReleased, packdomain.ReservationStatusCompensating:
			return packdomain.ErrReservationResolved
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE reservations
			 SET status = ?, resolved_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			packdomain.ReservationStatusCommitted,
			now,
			now,
			id,
			packdomain.ReservationStatusPending,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Concurrent finalize won; the usage record already exists.
			outcome = packdomain.CommitNoop
			return nil
		}

		outcome = packdomain.CommitApplied
		return tx.WithContext(ctx).Create(&packdomain.PackUsageRecord{
			ReservationID: reservation.ID,
			TenantID:      reservation.TenantID,
			PackID:        reservation.PackID,
			ResourceType:  reservation.ResourceType,
			CommittedAt:   now,
		}).Error
	})
	if err != nil {
		return packdomain.CommitNoop, err
	}
	return outcome, nil
}

func (r *repo) MarkCompensating(ctx context.Context, id snowflake.ID, attempts int, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE reservations
		 SET status = ?, attempts = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		packdomain.ReservationStatusCompensating,
		attempts,
		now,
		now,
		id,
		packdomain.ReservationStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]packdomain.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var stale []packdomain.Reservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", packdomain.ReservationStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}
	return stale, nil
}

func (r *repo) FindReservation(ctx context.Context, id snowflake.ID) (*packdomain.Reservation, error) {
	var reservation packdomain.Reservation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

func (r *repo) FindPack(ctx context.Context, id snowflake.ID) (*packdomain.Pack, error) {
	var pack packdomain.Pack
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&pack).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pack, nil
}

func (r *repo) PendingStats(ctx context.Context) (packdomain.PendingStats, error) {
	var row struct {
		Count  int64
		Oldest *time.Time
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS count, MIN(created_at) AS oldest
		 FROM reservations
		 WHERE status = ?`,
		packdomain.ReservationStatusPending,
	).Scan(&row).Error
	if err != nil {
		return packdomain.PendingStats{}, err
	}
	return packdomain.PendingStats{Count: row.Count, Oldest: row.Oldest}, nil
}

func (r *repo) CountResolvedSince(ctx context.Context, since time.Time) (packdomain.ResolvedCounts, error) {
	var rows []struct {
		Status packdomain.ReservationStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(1) AS count
		 FROM reservations
		 WHERE status IN (?, ?) AND resolved_at >= ?
		 GROUP BY status`,
		packdomain.ReservationStatusCommitted,
		packdomain.ReservationStatusCompensating,
		since,
	).Scan(&rows).Error
	if err != nil {
		return packdomain.ResolvedCounts{}, err
	}

	var counts packdomain.ResolvedCounts
	for _, row := range rows {
		switch row.Status {
		case packdomain.ReservationStatusCommitted:
			counts.Committed = row.Count
		case packdomain.ReservationStatusCompensating:
			counts.Compensating = row.Count
		}
	}
	return counts, nil
}

func (r *repo) CountByPackAndStatus(ctx context.Context, packID snowflake.ID, status packdomain.ReservationStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM reservations WHERE pack_id = ? AND status = ?`,
		packID,
		status,
	).Scan(&count).Error
	return count, err
}

func (r *repo) lockReservation(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*packdomain.Reservation, error) {
	query := `SELECT * FROM reservations WHERE id = ?`
	if r.postgres() {
		query += ` FOR UPDATE`
	}
	var reservation packdomain.Reservation
	err := tx.WithContext(ctx).Raw(query, id).Scan(&reservation).Error
	if err != nil {
		return nil, err
	}
	if reservation.ID == 0 {
		return nil, nil
	}
	return &reservation, nil
}

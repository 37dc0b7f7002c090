package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(gdb *gorm.DB) compdomain.Repository {
	return &repo{db: gdb}
}

// Enqueue relies on the unique reservation index: a concurrent or repeated
// escalation hits the duplicate-key path, which adds the new attempts onto the
// stored row and refreshes updated_at instead of inserting a second record.
func (r *repo) Enqueue(ctx context.Context, record *compdomain.CompensationRecord) (*compdomain.CompensationRecord, error) {
	err := r.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return record, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	result := r.db.WithContext(ctx).Exec(
		`UPDATE compensation_records
		 SET attempts = attempts + ?, updated_at = ?
		 WHERE reservation_id = ? AND resolved_at IS NULL`,
		record.Attempts,
		record.UpdatedAt,
		record.ReservationID,
	)
	if result.Error != nil {
		return nil, result.Error
	}

	existing, findErr := r.FindByReservation(ctx, record.ReservationID)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

func (r *repo) ListUnresolved(ctx context.Context, limit int) ([]compdomain.CompensationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []compdomain.CompensationRecord
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) Resolve(ctx context.Context, reservationID snowflake.ID, resolvedBy, note string, now time.Time) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE compensation_records
		 SET resolved_at = ?, resolved_by = ?, resolution_note = ?, updated_at = ?
		 WHERE reservation_id = ? AND resolved_at IS NULL`,
		now,
		resolvedBy,
		note,
		now,
		reservationID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	existing, err := r.FindByReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if existing == nil {
		return compdomain.ErrCompensationNotFound
	}
	// Already resolved: repeated resolve is a no-op.
	return nil
}

func (r *repo) FindByReservation(ctx context.Context, reservationID snowflake.ID) (*compdomain.CompensationRecord, error) {
	var record compdomain.CompensationRecord
	err := r.db.WithContext(ctx).Where("reservation_id = ?", reservationID).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) CountUnresolved(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM compensation_records WHERE resolved_at IS NULL`,
	).Scan(&count).Error
	return count, err
}

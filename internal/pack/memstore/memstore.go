// Package memstore is an in-memory pack repository used by deterministic
// concurrency tests. It honors the same conditional-transition contract as the
// database implementation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
)

type Store struct {
	mu           sync.Mutex
	packs        map[snowflake.ID]*packdomain.Pack
	reservations map[snowflake.ID]*packdomain.Reservation
	usageRecords map[snowflake.ID]*packdomain.PackUsageRecord
}

func New() *Store {
	return &Store{
		packs:        make(map[snowflake.ID]*packdomain.Pack),
		reservations: make(map[snowflake.ID]*packdomain.Reservation),
		usageRecords: make(map[snowflake.ID]*packdomain.PackUsageRecord),
	}
}

// AddPack seeds a pack. Test setup only.
func (s *Store) AddPack(pack packdomain.Pack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := pack
	s.packs[pack.ID] = &copied
}

// UsageRecordCount reports how many committed usage rows exist.
func (s *Store) UsageRecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usageRecords)
}

func (s *Store) ReserveUnit(_ context.Context, res *packdomain.Reservation) (*packdomain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*packdomain.Pack, 0, len(s.packs))
	for _, pack := range s.packs {
		if pack.TenantID == res.TenantID && pack.ResourceType == res.ResourceType && pack.RemainingUnits > 0 {
			candidates = append(candidates, pack)
		}
	}
	if len(candidates) == 0 {
		return nil, packdomain.ErrNoPackAvailable
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PurchasedAt.Equal(candidates[j].PurchasedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].PurchasedAt.Before(candidates[j].PurchasedAt)
	})

	pack := candidates[0]
	pack.RemainingUnits--
	pack.UpdatedAt = res.CreatedAt

	res.PackID = pack.ID
	res.Status = packdomain.ReservationStatusPending
	copied := *res
	s.reservations[res.ID] = &copied
	return res, nil
}

func (s *Store) ReleaseReservation(_ context.Context, id snowflake.ID, now time.Time) (packdomain.ReleaseOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return packdomain.ReleaseNoop, packdomain.ErrReservationNotFound
	}
	switch res.Status {
	case packdomain.ReservationStatusCommitted:
		return packdomain.ReleaseNoop, packdomain.ErrReleaseCommitted
	case packdomain.ReservationStatusReleased, packdomain.ReservationStatusCompensating:
		return packdomain.ReleaseNoop, nil
	}

	res.Status = packdomain.ReservationStatusReleased
	res.ResolvedAt = &now
	res.UpdatedAt = now
	if pack, ok := s.packs[res.PackID]; ok {
		pack.RemainingUnits++
		pack.UpdatedAt = now
	}
	return packdomain.ReleaseApplied, nil
}

func (s *Store) CommitReservation(_ context.Context, id snowflake.ID, now time.Time) (packdomain.CommitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return packdomain.CommitNoop, packdomain.ErrReservationNotFound
	}
	switch res.Status {
	case packdomain.ReservationStatusCommitted:
		return packdomain.CommitNoop, nil
	case packdomain.ReservationStatusReleased, packdomain.ReservationStatusCompensating:
		return packdomain.CommitNoop, packdomain.ErrReservationResolved
	}

	res.Status = packdomain.ReservationStatusCommitted
	res.ResolvedAt = &now
	res.UpdatedAt = now
	s.usageRecords[id] = &packdomain.PackUsageRecord{
		ReservationID: id,
		TenantID:      res.TenantID,
		PackID:        res.PackID,
		ResourceType:  res.ResourceType,
		CommittedAt:   now,
	}
	return packdomain.CommitApplied, nil
}

func (s *Store) MarkCompensating(_ context.Context, id snowflake.ID, attempts int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok || res.Status != packdomain.ReservationStatusPending {
		return false, nil
	}
	res.Status = packdomain.ReservationStatusCompensating
	res.Attempts = attempts
	res.ResolvedAt = &now
	res.UpdatedAt = now
	return true, nil
}

func (s *Store) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]packdomain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var stale []packdomain.Reservation
	for _, res := range s.reservations {
		if res.Status == packdomain.ReservationStatusPending && res.CreatedAt.Before(cutoff) {
			stale = append(stale, *res)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *Store) FindReservation(_ context.Context, id snowflake.ID) (*packdomain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	copied := *res
	return &copied, nil
}

func (s *Store) FindPack(_ context.Context, id snowflake.ID) (*packdomain.Pack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pack, ok := s.packs[id]
	if !ok {
		return nil, nil
	}
	copied := *pack
	return &copied, nil
}

func (s *Store) PendingStats(_ context.Context) (packdomain.PendingStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats packdomain.PendingStats
	for _, res := range s.reservations {
		if res.Status != packdomain.ReservationStatusPending {
			continue
		}
		stats.Count++
		if stats.Oldest == nil || res.CreatedAt.Before(*stats.Oldest) {
			created := res.CreatedAt
			stats.Oldest = &created
		}
	}
	return stats, nil
}

func (s *Store) CountResolvedSince(_ context.Context, since time.Time) (packdomain.ResolvedCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts packdomain.ResolvedCounts
	for _, res := range s.reservations {
		if res.ResolvedAt == nil || res.ResolvedAt.Before(since) {
			continue
		}
		switch res.Status {
		case packdomain.ReservationStatusCommitted:
			counts.Committed++
		case packdomain.ReservationStatusCompensating:
			counts.Compensating++
		}
	}
	return counts, nil
}

func (s *Store) CountByPackAndStatus(_ context.Context, packID snowflake.ID, status packdomain.ReservationStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, res := range s.reservations {
		if res.PackID == packID && res.Status == status {
			count++
		}
	}
	return count, nil
}

var _ packdomain.Repository = (*Store)(nil)

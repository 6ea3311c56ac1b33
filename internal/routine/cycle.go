package routine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// CycleManager drives day progression of training cycles: marking days
// complete and the auto-advance check that skips past missed days. It holds
// no state of its own beyond the once-per-foreground latch; progression
// lives in the repository.
type CycleManager struct {
	repo   CycleRepository
	logger *log.Logger

	mu      sync.Mutex
	checked bool
}

// NewCycleManager creates a cycle manager.
func NewCycleManager(repo CycleRepository, logger *log.Logger) *CycleManager {
	if repo == nil {
		panic("CycleManager: repo cannot be nil")
	}
	if logger == nil {
		panic("CycleManager: logger cannot be nil")
	}
	return &CycleManager{repo: repo, logger: logger}
}

// CurrentDay returns the cycle's current day item.
func (m *CycleManager) CurrentDay(ctx context.Context, cycleID int64) (CycleItem, CycleProgress, error) {
	cycle, err := m.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		return CycleItem{}, CycleProgress{}, fmt.Errorf("failed to load cycle: %w", err)
	}
	progress, err := m.repo.GetProgress(ctx, cycleID)
	if err != nil {
		return CycleItem{}, CycleProgress{}, fmt.Errorf("failed to load cycle progress: %w", err)
	}
	for _, item := range cycle.Items {
		if item.DayNumber == progress.CurrentDay {
			return item, progress, nil
		}
	}
	return CycleItem{}, progress, fmt.Errorf("cycle %d has no day %d", cycleID, progress.CurrentDay)
}

// MarkDayCompleted records the current day as done and moves to the next,
// wrapping past the last day and counting a rotation. The save is awaited.
func (m *CycleManager) MarkDayCompleted(ctx context.Context, cycleID int64, now time.Time) (CycleProgress, error) {
	cycle, err := m.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		return CycleProgress{}, fmt.Errorf("failed to load cycle: %w", err)
	}
	progress, err := m.repo.GetProgress(ctx, cycleID)
	if err != nil {
		return CycleProgress{}, fmt.Errorf("failed to load cycle progress: %w", err)
	}

	progress = advanceDay(progress, len(cycle.Items))
	progress.LastCompleted = now

	if err := m.repo.SaveProgress(ctx, progress); err != nil {
		return CycleProgress{}, fmt.Errorf("failed to save cycle progress: %w", err)
	}
	m.logger.Printf("CycleManager: Day completed, cycle %d now on day %d (rotation %d)",
		cycleID, progress.CurrentDay, progress.Rotations)
	return progress, nil
}

// CheckAutoAdvance advances past a missed day: if the last completed day is
// more than one calendar day behind now, the current day moves forward by
// one and is marked missed. The check is idempotent; calling it again the
// same day is a no-op. Returns the (possibly updated) progress and whether
// an advance happened.
func (m *CycleManager) CheckAutoAdvance(ctx context.Context, cycleID int64, now time.Time) (CycleProgress, bool, error) {
	cycle, err := m.repo.GetCycleByID(ctx, cycleID)
	if err != nil {
		return CycleProgress{}, false, fmt.Errorf("failed to load cycle: %w", err)
	}
	progress, err := m.repo.GetProgress(ctx, cycleID)
	if err != nil {
		return CycleProgress{}, false, fmt.Errorf("failed to load cycle progress: %w", err)
	}

	// A cycle never touched has nothing to miss.
	if progress.LastCompleted.IsZero() {
		return progress, false, nil
	}

	staleDays := startOfDay(now).Sub(startOfDay(progress.LastCompleted)) / (24 * time.Hour)
	if staleDays <= 1 {
		return progress, false, nil
	}

	missedDay := progress.CurrentDay
	progress = advanceDay(progress, len(cycle.Items))
	// Anchor to yesterday so a repeated check today stays a no-op.
	progress.LastCompleted = startOfDay(now).Add(-24 * time.Hour)

	if err := m.repo.SaveProgress(ctx, progress); err != nil {
		return CycleProgress{}, false, fmt.Errorf("failed to save cycle progress: %w", err)
	}
	m.logger.Printf("CycleManager: Day %d of cycle %d missed, advanced to day %d (rotation %d)",
		missedDay, cycleID, progress.CurrentDay, progress.Rotations)
	return progress, true, nil
}

// CheckAutoAdvanceOnce runs CheckAutoAdvance at most once until
// ResetForegroundLatch is called. Callers invoke it on every foreground;
// the latch makes repeated foregrounds cheap.
func (m *CycleManager) CheckAutoAdvanceOnce(ctx context.Context, cycleID int64, now time.Time) (CycleProgress, bool, error) {
	m.mu.Lock()
	if m.checked {
		m.mu.Unlock()
		progress, err := m.repo.GetProgress(ctx, cycleID)
		return progress, false, err
	}
	m.checked = true
	m.mu.Unlock()
	return m.CheckAutoAdvance(ctx, cycleID, now)
}

// ResetForegroundLatch re-arms CheckAutoAdvanceOnce, typically when the app
// returns to the foreground.
func (m *CycleManager) ResetForegroundLatch() {
	m.mu.Lock()
	m.checked = false
	m.mu.Unlock()
}

func advanceDay(p CycleProgress, totalDays int) CycleProgress {
	if totalDays < 1 {
		return p
	}
	p.CurrentDay++
	if p.CurrentDay > totalDays {
		p.CurrentDay = 1
		p.Rotations++
	}
	return p
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

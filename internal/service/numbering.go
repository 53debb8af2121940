package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/repository"
)

// IdentifierAllocator hands out defect numbers of the form PREFIX-YEAR-SEQ.
type IdentifierAllocator struct {
	clock Clock
	loc   *time.Location
}

// NewIdentifierAllocator builds an allocator. The year is taken in loc.
func NewIdentifierAllocator(clock Clock, loc *time.Location) *IdentifierAllocator {
	return &IdentifierAllocator{clock: clockOrNow(clock), loc: locationOrUTC(loc)}
}

// Allocate returns the next free number for project. defects must be bound to the
// creating transaction: the sequence lock is held until that transaction ends.
func (a *IdentifierAllocator) Allocate(ctx context.Context, defects repository.DefectRepository, project domain.Project) (string, error) {
	prefix := fmt.Sprintf("%s-%d-", project.NumberPrefix(), a.clock().In(a.loc).Year())

	if err := defects.LockNumberSequence(ctx, prefix); err != nil {
		return "", fmt.Errorf("lock number sequence %s: %w", prefix, err)
	}
	last, err := defects.LastNumberWithPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("read last number %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s%04d", prefix, parseSequence(last)+1), nil
}

// parseSequence reads the trailing integer of a defect number. Anything unparsable counts as 0.
func parseSequence(number string) int {
	idx := strings.LastIndex(number, "-")
	if idx < 0 {
		return 0
	}
	seq, err := strconv.Atoi(number[idx+1:])
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

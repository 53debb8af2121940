// Package workflow holds the defect state machine and its authorization rules.
package workflow

import (
	"fmt"

	"github.com/stroycontrol/defect-service/internal/domain"
)

var allowedTransitions = map[domain.DefectStatus][]domain.DefectStatus{
	domain.DefectStatusNew:        {domain.DefectStatusInProgress, domain.DefectStatusCancelled},
	domain.DefectStatusInProgress: {domain.DefectStatusReview, domain.DefectStatusCancelled},
	domain.DefectStatusReview:     {domain.DefectStatusClosed, domain.DefectStatusInProgress},
	domain.DefectStatusClosed:     {},
	domain.DefectStatusCancelled:  {domain.DefectStatusNew},
}

const (
	ReasonStartWork  = "only assignee or project manager may start work"
	ReasonSubmit     = "only assignee may submit for review"
	ReasonClose      = "only reviewer or project manager may close"
	reasonTransition = "invalid transition from %s to %s"
)

// IsValidTransition reports whether the table permits current -> requested, ignoring roles.
func IsValidTransition(current, requested domain.DefectStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == requested {
			return true
		}
	}
	return false
}

// AllowedTargets returns the statuses reachable from current by the table.
func AllowedTargets(current domain.DefectStatus) []domain.DefectStatus {
	return append([]domain.DefectStatus(nil), allowedTransitions[current]...)
}

// CanTransition decides whether actor may move defect from current to requested.
// It has no side effects. The reason is empty when the transition is allowed.
//
// Cancelling and reopening carry no role guard beyond the table; project access
// is checked by the caller.
func CanTransition(current, requested domain.DefectStatus, actor domain.Principal, defect domain.Defect) (bool, string) {
	if !IsValidTransition(current, requested) {
		return false, fmt.Sprintf(reasonTransition, current, requested)
	}
	if actor == nil {
		return false, "actor required"
	}

	userID := actor.UserID()
	switch requested {
	case domain.DefectStatusInProgress:
		if !(defect.IsAssignee(userID) || actor.IsProjectManager(defect.ProjectID) || actor.IsAdmin()) {
			return false, ReasonStartWork
		}
	case domain.DefectStatusReview:
		if !(defect.IsAssignee(userID) || actor.IsAdmin()) {
			return false, ReasonSubmit
		}
	case domain.DefectStatusClosed:
		if !(defect.IsReviewer(userID) || actor.IsProjectManager(defect.ProjectID) || actor.IsAdmin()) {
			return false, ReasonClose
		}
	}
	return true, ""
}

// AvailableTransitions returns the statuses actor may move defect to right now.
func AvailableTransitions(actor domain.Principal, defect domain.Defect) []domain.DefectStatus {
	var result []domain.DefectStatus
	for _, target := range allowedTransitions[defect.Status] {
		if ok, _ := CanTransition(defect.Status, target, actor, defect); ok {
			result = append(result, target)
		}
	}
	return result
}

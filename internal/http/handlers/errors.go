// Package handlers exposes the bot's workflows over HTTP for the gateway
// bridge. This file holds the stable error codes of the error envelope and
// the mapping from service errors to status and code.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "quota_exceeded",
//	  "message": "you have reached the maximum of 5 maps in playtest"
//	}
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/interaction"
	"github.com/tbourn/genji-bot/internal/repo"
	"github.com/tbourn/genji-bot/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidInput     = "invalid_input"
	ErrCodeQuotaExceeded    = "quota_exceeded"
	ErrCodeDraftExpired     = "draft_expired"
	ErrCodeDuplicateRequest = "duplicate_change_request"
	ErrCodeAlreadyResolved  = "playtest_resolved"
	ErrCodeRestarting       = "playtest_restarting"
	ErrCodeUnknownControl   = "unknown_control"
)

var (
	invalidInput = []error{
		domain.ErrInvalidMapCode,
		domain.ErrInvalidMedals,
		domain.ErrInvalidRecord,
		domain.ErrInvalidSubmission,
		domain.ErrUnknownDifficulty,
		services.ErrUnknownLookup,
		services.ErrDetailsIncomplete,
		services.ErrInvalidVote,
		services.ErrEmptyContent,
		services.ErrUnknownAction,
		cache.ErrInvalidEntry,
	}
	forbidden = []error{
		services.ErrNotModerator,
		services.ErrNotCreator,
		services.ErrNotDraftOwner,
	}
	notFound = []error{
		services.ErrMapNotFound,
		services.ErrPlaytestNotFound,
		services.ErrChangeRequestNotFound,
		services.ErrMemberNotFound,
		cache.ErrDoesNotExist,
		cache.ErrCreatorDoesNotExist,
		repo.ErrNotFound,
	}
	conflict = []error{
		services.ErrMapExists,
		services.ErrInvalidTransition,
		cache.ErrAlreadyExists,
		cache.ErrCreatorAlreadyExists,
		repo.ErrDuplicate,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// failErr maps a service error onto the envelope. Unknown errors become a
// logged 500 without leaking the cause to the caller.
func failErr(c *gin.Context, err error) {
	var weekly *services.WeeklyQuotaError
	switch {
	case errors.As(err, &weekly):
		if wait := time.Until(weekly.RetryAt); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		}
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, err.Error())
	case errors.Is(err, services.ErrMaxMapsInPlaytest):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, err.Error())
	case errors.Is(err, services.ErrDraftNotFound):
		fail(c, http.StatusNotFound, ErrCodeDraftExpired, err.Error())
	case errors.Is(err, services.ErrDuplicateChangeRequest):
		fail(c, http.StatusConflict, ErrCodeDuplicateRequest, err.Error())
	case errors.Is(err, services.ErrPlaytestResolved):
		fail(c, http.StatusConflict, ErrCodeAlreadyResolved, err.Error())
	case errors.Is(err, services.ErrPlaytestRestarting):
		fail(c, http.StatusConflict, ErrCodeRestarting, err.Error())
	case errors.Is(err, interaction.ErrMalformedID):
		fail(c, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
	case errors.Is(err, interaction.ErrNoMatch):
		fail(c, http.StatusNotFound, ErrCodeUnknownControl, err.Error())
	case isAny(err, invalidInput):
		fail(c, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
	case isAny(err, forbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case isAny(err, notFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case isAny(err, conflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

// Package services holds the submission workflow, playtest voting, change
// requests and the supporting member/analytics logic. This file centralizes
// service-level error values so that handlers can map them to user-facing
// messages and HTTP status codes consistently.
package services

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors.
var (
	// ErrMapExists is returned when a submission reuses a stored map code.
	ErrMapExists = errors.New("map code already exists")

	// ErrMapNotFound indicates that the referenced map code is not stored.
	ErrMapNotFound = errors.New("map code not found")

	// ErrUnknownLookup is returned when a detail value (type, mechanic,
	// restriction) is not one of the known options.
	ErrUnknownLookup = errors.New("unknown option")

	// ErrDetailsIncomplete is returned by Confirm before all four detail
	// fields have been supplied.
	ErrDetailsIncomplete = errors.New("map type, mechanics, restrictions and difficulty are required")

	// ErrInvalidVote is returned for votes outside [0, 10].
	ErrInvalidVote = errors.New("vote must be between 0 and 10")

	// ErrEmptyContent is returned for a change request without text.
	ErrEmptyContent = errors.New("change request content is empty")

	// ErrUnknownAction is returned for an unrecognised mod or creator action.
	ErrUnknownAction = errors.New("unknown action")
)

// Quota errors.
var (
	// ErrMaxMapsInPlaytest is returned when the user already has five
	// open playtests. There is no retry time.
	ErrMaxMapsInPlaytest = errors.New("you have reached the maximum of 5 maps in playtest")

	// ErrMaxWeeklyMapsInPlaytest is wrapped by *WeeklyQuotaError.
	ErrMaxWeeklyMapsInPlaytest = errors.New("you have reached the maximum of 2 submissions this week")
)

// Permission errors.
var (
	// ErrNotModerator is returned when a mod-only action is attempted by a
	// member without a moderator role.
	ErrNotModerator = errors.New("only moderators can do this")

	// ErrNotCreator is returned when a creator-only action is attempted by
	// someone not credited on the map.
	ErrNotCreator = errors.New("only the map's creators can do this")

	// ErrNotDraftOwner is returned when a user touches another user's draft.
	ErrNotDraftOwner = errors.New("this submission belongs to another user")
)

// Workflow errors.
var (
	// ErrDraftNotFound indicates an unknown, cancelled or expired draft.
	ErrDraftNotFound = errors.New("submission draft not found or expired")

	// ErrInvalidTransition is returned for a state change the workflow
	// does not allow.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrPlaytestNotFound indicates that no live playtest matches the id.
	ErrPlaytestNotFound = errors.New("playtest not found")

	// ErrPlaytestResolved is returned for actions on a closed playtest.
	ErrPlaytestResolved = errors.New("playtest is already resolved")

	// ErrPlaytestRestarting is returned for votes and actions on a playtest
	// that waits for its author to re-enter details.
	ErrPlaytestRestarting = errors.New("playtest was restarted and is waiting for new details")

	// ErrDuplicateChangeRequest is returned when open change requests exist
	// and the caller did not explicitly choose to continue.
	ErrDuplicateChangeRequest = errors.New("there are already open change requests for this map")

	// ErrChangeRequestNotFound indicates an unknown change request thread.
	ErrChangeRequestNotFound = errors.New("change request not found")

	// ErrMemberNotFound indicates a user with no stored row.
	ErrMemberNotFound = errors.New("member not found")
)

// WeeklyQuotaError carries the time at which the user may submit again.
type WeeklyQuotaError struct {
	RetryAt time.Time
}

func (e *WeeklyQuotaError) Error() string {
	return fmt.Sprintf("%s; try again at %s", ErrMaxWeeklyMapsInPlaytest, e.RetryAt.UTC().Format(time.RFC1123))
}

func (e *WeeklyQuotaError) Unwrap() error { return ErrMaxWeeklyMapsInPlaytest }

package domain

import (
	"fmt"

	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
)

// Status is the lifecycle state of a hotspot.
type Status string

// Lifecycle states. AllStatuses is the only list of them; the database
// constraint is generated from it.
const (
	StatusPendingValidation   Status = "pending_validation"
	StatusValidated           Status = "validated"
	StatusRejected            Status = "rejected"
	StatusCrawling            Status = "crawling"
	StatusCrawled             Status = "crawled"
	StatusAnalyzing           Status = "analyzing"
	StatusAnalyzed            Status = "analyzed"
	StatusSecondStageRejected Status = "second_stage_rejected"
	StatusArchived            Status = "archived"
	StatusOutdated            Status = "outdated"
)

var allStatuses = []Status{
	StatusPendingValidation,
	StatusValidated,
	StatusRejected,
	StatusCrawling,
	StatusCrawled,
	StatusAnalyzing,
	StatusAnalyzed,
	StatusSecondStageRejected,
	StatusArchived,
	StatusOutdated,
}

// AllStatuses returns every lifecycle state in declaration order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)

	return out
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}

	return "", fmt.Errorf("%w: unknown status %q", coreerrors.ErrInvalidArgument, s)
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	for key := range transitions {
		if key.from == s {
			return false
		}
	}

	return true
}

// RetiresRepresentative reports whether a cluster representative in state s
// gives up the cluster's crawl slot to another member.
func (s Status) RetiresRepresentative() bool {
	switch s {
	case StatusRejected, StatusSecondStageRejected, StatusOutdated:
		return true
	default:
		return false
	}
}

// RetiringStatuses returns the states for which RetiresRepresentative is true.
func RetiringStatuses() []Status {
	var out []Status

	for _, st := range allStatuses {
		if st.RetiresRepresentative() {
			out = append(out, st)
		}
	}

	return out
}

// NonTerminalStatuses returns the states the outdated sweep may expire.
func NonTerminalStatuses() []Status {
	var out []Status

	for _, st := range allStatuses {
		if !st.IsTerminal() {
			out = append(out, st)
		}
	}

	return out
}

// Event names a lifecycle trigger.
type Event string

// Lifecycle events.
const (
	EventValidate          Event = "validate"
	EventReject            Event = "reject"
	EventClaimCrawl        Event = "claim_crawl"
	EventCrawlSucceeded    Event = "crawl_succeeded"
	EventCrawlFailed       Event = "crawl_failed"
	EventStartAnalysis     Event = "start_analysis"
	EventAnalysisCompleted Event = "analysis_completed"
	EventSecondStageReject Event = "second_stage_reject"
	EventArchive           Event = "archive"
	EventExpire            Event = "expire"
)

type transitionKey struct {
	from  Status
	event Event
}

// transitions is the complete lifecycle graph.
var transitions = map[transitionKey]Status{
	{StatusPendingValidation, EventValidate}: StatusValidated,
	{StatusPendingValidation, EventReject}:   StatusRejected,
	{StatusPendingValidation, EventExpire}:   StatusOutdated,

	{StatusValidated, EventClaimCrawl}: StatusCrawling,
	{StatusValidated, EventExpire}:     StatusOutdated,

	{StatusCrawling, EventCrawlSucceeded}: StatusCrawled,
	{StatusCrawling, EventCrawlFailed}:    StatusValidated,
	{StatusCrawling, EventExpire}:         StatusOutdated,

	{StatusCrawled, EventStartAnalysis}: StatusAnalyzing,
	{StatusCrawled, EventExpire}:        StatusOutdated,

	{StatusAnalyzing, EventAnalysisCompleted}: StatusAnalyzed,
	{StatusAnalyzing, EventSecondStageReject}: StatusSecondStageRejected,
	{StatusAnalyzing, EventExpire}:            StatusOutdated,

	{StatusAnalyzed, EventArchive}: StatusArchived,
	{StatusAnalyzed, EventExpire}:  StatusOutdated,
}

// Next returns the state reached by applying ev in from. Pairs outside the
// graph return ErrInvalidTransition.
func Next(from Status, ev Event) (Status, error) {
	to, ok := transitions[transitionKey{from: from, event: ev}]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", coreerrors.ErrInvalidTransition, ev, from)
	}

	return to, nil
}

// AllEvents returns every lifecycle event.
func AllEvents() []Event {
	return []Event{
		EventValidate,
		EventReject,
		EventClaimCrawl,
		EventCrawlSucceeded,
		EventCrawlFailed,
		EventStartAnalysis,
		EventAnalysisCompleted,
		EventSecondStageReject,
		EventArchive,
		EventExpire,
	}
}

// MustNext is Next for pairs known at construction time.
func MustNext(from Status, ev Event) Status {
	to, err := Next(from, ev)
	if err != nil {
		panic(err)
	}

	return to
}

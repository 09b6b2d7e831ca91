package domain

import "errors"

// Sentinel errors surfaced across the control plane; components wrap
// these with fmt.Errorf("...: %w", err) and callers match with errors.Is.
var (
	// ErrSessionTerminal names a session that has already reached a
	// terminal status; the Session Controller reports such cases with
	// ErrSessionNotRunning instead.
	ErrSessionTerminal = errors.New("session is in a terminal status")
	// ErrIllegalTransition is returned when an application status update
	// does not appear in the legal transition table.
	ErrIllegalTransition = errors.New("illegal application status transition")
	// ErrDomainBlocked names a domain whose cooldown has not yet elapsed.
	// The Rate Governor does not return it: it reports this case as a
	// Defer result.
	ErrDomainBlocked = errors.New("domain is blocked")
	// ErrDomainDayCapReached names a domain whose daily quota is
	// exhausted; the Rate Governor reports this as a Reject result with
	// reason "day_cap_reached".
	ErrDomainDayCapReached = errors.New("domain daily cap reached")
	// ErrDomainAvoided names a host whose domain policy is marked avoid;
	// the Rate Governor reports this as a Reject result with reason
	// "avoid".
	ErrDomainAvoided = errors.New("domain marked avoid")
	// ErrNotFound is returned by repository lookups that find nothing.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by repository creates on duplicate ids.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInterventionTimeout is returned when a human-in-the-loop
	// resolution does not arrive within the configured deadline.
	ErrInterventionTimeout = errors.New("intervention timed out")
	// ErrSessionNotRunning is returned when start/pause/resume is called
	// from a state that does not allow it.
	ErrSessionNotRunning = errors.New("session is not in a state that allows this operation")
)

package entitysync

// Errors raised by the synchronization core. Each matches one row of the
// error-kind table: fatal errors panic at the call site (programmer/config
// errors). The one non-fatal condition, an unknown entity, is not returned
// as an error: the server reports it through ServerHooks.OnUnknownEntity and
// drops the input.

// NonMonotonicTimestampError is raised by History.Record when ts is not
// strictly greater than the latest recorded timestamp. Fatal: it indicates
// the tick loop is misconfigured (two records at the same or an earlier time).
type NonMonotonicTimestampError struct {
	Timestamp int64
	LatestTs  int64
}

func (e *NonMonotonicTimestampError) Error() string {
	return "entitysync: non-monotonic timestamp"
}

// NoSuchTimestampError is raised by History.Rewrite when no entry exists at
// exactly ts. Fatal: resimulation only ever rewrites timestamps it just read.
type NoSuchTimestampError struct {
	Timestamp int64
}

func (e *NoSuchTimestampError) Error() string {
	return "entitysync: no history entry at that timestamp"
}

// UnknownEntityError describes an InputMessage or reconciliation step that
// refers to an entity id the collection does not hold. Non-fatal: log and
// drop. The core does not construct it: ServerSyncer.Tick passes the client
// and entity ids to ServerHooks.OnUnknownEntity, and ClientSyncer skips such
// inputs without reporting them.
type UnknownEntityError struct {
	EntityID string
}

func (e *UnknownEntityError) Error() string {
	return "entitysync: unknown entity " + e.EntityID
}

// EntityIDMismatchError is raised by the checked NewEntityHandler wrapper
// when the entity it constructed reports an id different from the message
// it was built from. Fatal: the handler's contract was violated.
type EntityIDMismatchError struct {
	Expected string
	Got      string
}

func (e *EntityIDMismatchError) Error() string {
	return "entitysync: entity handler returned id " + e.Got + ", expected " + e.Expected
}

// UnexpectedSyncStrategyError is raised by FuncEntity's ApplyInput,
// Interpolate and Reckon when the entity has no function configured for that
// capability, i.e. it was used under a strategy it cannot serve. Fatal:
// programming error.
type UnexpectedSyncStrategyError struct {
	Strategy SyncStrategy
}

func (e *UnexpectedSyncStrategyError) Error() string {
	return "entitysync: unexpected sync strategy"
}

// NonInterpolableFieldError is raised by the default linear interpolator
// when it walks into a leaf that is neither numeric nor a nested object, or
// when the two state trees have mismatched field sets. Fatal at the call
// site: it means the two entities' schemas are incompatible.
type NonInterpolableFieldError struct {
	Field string
}

func (e *NonInterpolableFieldError) Error() string {
	return "entitysync: non-interpolable field " + e.Field
}

// SendBeforeConnectError is raised by the in-memory transport when Send is
// called for a client slot that was never registered via Connect. Fatal:
// test/harness misuse.
type SendBeforeConnectError struct {
	ClientID string
}

func (e *SendBeforeConnectError) Error() string {
	return "entitysync: send before connect for client " + e.ClientID
}

var (
	// ErrNonMonotonicTimestamp prototype; prefer the typed *NonMonotonicTimestampError
	// returned by History.Record, which carries the offending timestamps.
	ErrNonMonotonicTimestamp = &NonMonotonicTimestampError{}
	ErrNoSuchTimestamp       = &NoSuchTimestampError{}
	ErrUnknownEntity         = &UnknownEntityError{}
	ErrEntityIDMismatch      = &EntityIDMismatchError{}
	ErrUnexpectedSyncStrategy = &UnexpectedSyncStrategyError{}
	ErrNonInterpolableField  = &NonInterpolableFieldError{}
	ErrSendBeforeConnect     = &SendBeforeConnectError{}
)

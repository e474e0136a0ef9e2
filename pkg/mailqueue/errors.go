package mailqueue

import "errors"

var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrRegistryNil is returned when a dispatcher is built without a transport registry
	ErrRegistryNil = errors.New("transport registry cannot be nil")

	// ErrDispatcherNil is returned when a driver is built without a dispatcher
	ErrDispatcherNil = errors.New("dispatcher cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadNotObject is returned when the payload does not encode to a JSON object
	ErrPayloadNotObject = errors.New("payload must encode to a JSON object")

	// ErrEmptyKind is returned when a message or transport has no kind
	ErrEmptyKind = errors.New("message kind cannot be empty")

	// ErrEnqueueFailed is returned when the message could not be persisted.
	// It never means a delivery problem: delivery happens later, out of band.
	ErrEnqueueFailed = errors.New("failed to enqueue message")

	// ErrUnknownKind is returned when no transport is registered for a message kind
	ErrUnknownKind = errors.New("no transport registered for message kind")

	// ErrTransportNil is returned when registering a nil transport
	ErrTransportNil = errors.New("transport cannot be nil")

	// ErrKindAlreadyRegistered is returned when a kind already has a transport
	ErrKindAlreadyRegistered = errors.New("transport already registered for message kind")

	// ErrDeliveryTimeout is returned when a transport call exceeds the delivery timeout
	ErrDeliveryTimeout = errors.New("delivery timed out")

	// ErrTransportPanic is returned when a transport panics during delivery
	ErrTransportPanic = errors.New("transport panicked")

	// ErrInvalidCriteria is returned when selection parameters are out of range
	ErrInvalidCriteria = errors.New("invalid selection criteria")

	// ErrInvalidConfig is returned when component options are inconsistent
	ErrInvalidConfig = errors.New("invalid mailqueue configuration")

	// ErrMessageNotFound is returned when a message does not exist in storage
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateMessage is returned when a message ID is already taken
	ErrDuplicateMessage = errors.New("message with this id already exists")

	// ErrNotClaimed is returned when a claim or a state transition loses the race:
	// the message was already sent, its attempts moved on, or another worker holds the lease.
	ErrNotClaimed = errors.New("message is not claimable by this worker")

	// ErrAlreadyStarted is returned when starting a running driver
	ErrAlreadyStarted = errors.New("driver already started")

	// ErrNotStarted is returned when stopping a driver that is not running
	ErrNotStarted = errors.New("driver not started")
)

package constant

import "errors"

var (
	// ErrBrokerUnreachable signals a failed connection or channel establishment against the broker.
	ErrBrokerUnreachable = errors.New("0101")
	// ErrSerializationFailure signals a payload that could not be marshaled or unmarshaled.
	ErrSerializationFailure = errors.New("0102")
	// ErrHandlerFailure signals a subscriber handler that returned an error while processing a delivery.
	ErrHandlerFailure = errors.New("0103")
	// ErrPersistenceFailure signals a database error raised by the outbox store.
	ErrPersistenceFailure = errors.New("0104")
	// ErrConfigInvalid signals a null or empty required configuration value detected at construction time.
	ErrConfigInvalid = errors.New("0105")
	// ErrMetadataKeyLengthExceeded signals a metadata key longer than the configured limit.
	ErrMetadataKeyLengthExceeded = errors.New("0106")
	// ErrMetadataValueLengthExceeded signals a metadata value longer than the configured limit.
	ErrMetadataValueLengthExceeded = errors.New("0107")
)

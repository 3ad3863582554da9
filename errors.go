package commons

import (
	"fmt"

	constant "github.com/LerianStudio/lib-eventbus/constants"
)

// Response represents a business error with code, title, and message.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e Response) Error() string {
	return e.Message
}

// ValidateBusinessError maps a sentinel error from the event bus error
// taxonomy to a business-facing Response carrying a code, title, and
// message. Errors outside the taxonomy are returned unchanged.
//
// Parameters:
//   - err: the error to be mapped.
//   - entityType: the component or subsystem the error originated from.
//   - args: additional arguments for formatting error messages.
func ValidateBusinessError(err error, entityType string, args ...any) error {
	errorMap := map[error]error{
		constant.ErrBrokerUnreachable: Response{
			EntityType: entityType,
			Code:       constant.ErrBrokerUnreachable.Error(),
			Title:      "Broker Unreachable",
			Message:    "Connection establishment or channel creation with the broker failed. The operation will be retried.",
		},
		constant.ErrSerializationFailure: Response{
			EntityType: entityType,
			Code:       constant.ErrSerializationFailure.Error(),
			Title:      "Serialization Failure",
			Message:    "The event payload could not be marshaled or unmarshaled.",
		},
		constant.ErrHandlerFailure: Response{
			EntityType: entityType,
			Code:       constant.ErrHandlerFailure.Error(),
			Title:      "Handler Failure",
			Message:    "A subscriber handler returned an error while processing the delivery.",
		},
		constant.ErrPersistenceFailure: Response{
			EntityType: entityType,
			Code:       constant.ErrPersistenceFailure.Error(),
			Title:      "Persistence Failure",
			Message:    "A database error occurred in the outbox store.",
		},
		constant.ErrConfigInvalid: Response{
			EntityType: entityType,
			Code:       constant.ErrConfigInvalid.Error(),
			Title:      "Invalid Configuration",
			Message:    "A required configuration value was null or empty at construction time.",
		},
		constant.ErrMetadataKeyLengthExceeded: Response{
			EntityType: entityType,
			Code:       constant.ErrMetadataKeyLengthExceeded.Error(),
			Title:      "Metadata Key Length Exceeded",
			Message:    fmt.Sprintf("The metadata key exceeds the maximum allowed length of %v characters.", optionalArg(args, 0)),
		},
		constant.ErrMetadataValueLengthExceeded: Response{
			EntityType: entityType,
			Code:       constant.ErrMetadataValueLengthExceeded.Error(),
			Title:      "Metadata Value Length Exceeded",
			Message:    fmt.Sprintf("The metadata value exceeds the maximum allowed length of %v characters.", optionalArg(args, 0)),
		},
	}
	if mappedError, found := errorMap[err]; found {
		return mappedError
	}

	return err
}

// optionalArg returns args[index] or "the configured" when the caller did
// not supply enough formatting arguments.
func optionalArg(args []any, index int) any {
	if index < len(args) {
		return args[index]
	}

	return "the configured"
}

package commons

import (
	"errors"
	"testing"

	constant "github.com/LerianStudio/lib-eventbus/constants"
	"github.com/stretchr/testify/assert"
)

func TestResponse_Error(t *testing.T) {
	tests := []struct {
		name     string
		response Response
		expected string
	}{
		{
			name: "response with message",
			response: Response{
				EntityType: "outbox",
				Code:       "NOT_FOUND",
				Title:      "Event Not Found",
				Message:    "The requested event was not found",
			},
			expected: "The requested event was not found",
		},
		{
			name: "response with empty message",
			response: Response{
				EntityType: "outbox",
				Code:       "NOT_FOUND",
				Title:      "Event Not Found",
				Message:    "",
			},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.response.Error()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateBusinessError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		entityType string
		validate   func(t *testing.T, result error)
	}{
		{
			name:       "broker unreachable error",
			err:        constant.ErrBrokerUnreachable,
			entityType: "broker",
			validate: func(t *testing.T, result error) {
				response, ok := result.(Response)
				assert.True(t, ok)
				assert.Equal(t, "broker", response.EntityType)
				assert.Equal(t, constant.ErrBrokerUnreachable.Error(), response.Code)
				assert.Equal(t, "Broker Unreachable", response.Title)
				assert.Contains(t, response.Message, "retried")
			},
		},
		{
			name:       "serialization failure error",
			err:        constant.ErrSerializationFailure,
			entityType: "event",
			validate: func(t *testing.T, result error) {
				response, ok := result.(Response)
				assert.True(t, ok)
				assert.Equal(t, "event", response.EntityType)
				assert.Equal(t, constant.ErrSerializationFailure.Error(), response.Code)
				assert.Equal(t, "Serialization Failure", response.Title)
			},
		},
		{
			name:       "handler failure error",
			err:        constant.ErrHandlerFailure,
			entityType: "subscriber",
			validate: func(t *testing.T, result error) {
				response, ok := result.(Response)
				assert.True(t, ok)
				assert.Equal(t, "subscriber", response.EntityType)
				assert.Equal(t, constant.ErrHandlerFailure.Error(), response.Code)
			},
		},
		{
			name:       "persistence failure error",
			err:        constant.ErrPersistenceFailure,
			entityType: "outbox",
			validate: func(t *testing.T, result error) {
				response, ok := result.(Response)
				assert.True(t, ok)
				assert.Equal(t, "outbox", response.EntityType)
				assert.Equal(t, constant.ErrPersistenceFailure.Error(), response.Code)
				assert.Contains(t, response.Message, "database error")
			},
		},
		{
			name:       "config invalid error",
			err:        constant.ErrConfigInvalid,
			entityType: "config",
			validate: func(t *testing.T, result error) {
				response, ok := result.(Response)
				assert.True(t, ok)
				assert.Equal(t, "config", response.EntityType)
				assert.Equal(t, constant.ErrConfigInvalid.Error(), response.Code)
			},
		},
		{
			name:       "unknown error - return as is",
			err:        errors.New("unknown error"),
			entityType: "unknown",
			validate: func(t *testing.T, result error) {
				assert.Equal(t, "unknown error", result.Error())
			},
		},
		{
			name:       "nil error - return as is",
			err:        nil,
			entityType: "test",
			validate: func(t *testing.T, result error) {
				assert.Nil(t, result)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBusinessError(tt.err, tt.entityType)
			if tt.validate != nil {
				tt.validate(t, result)
			}
		})
	}
}

func TestValidateBusinessError_WithArgs(t *testing.T) {
	result := ValidateBusinessError(constant.ErrBrokerUnreachable, "broker", "arg1", "arg2")

	response, ok := result.(Response)
	assert.True(t, ok)
	assert.Equal(t, "broker", response.EntityType)
}

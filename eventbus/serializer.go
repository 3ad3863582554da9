package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Serialize encodes event as JSON using its runtime type, so subtype fields
// are preserved even when the caller holds the event as the Event interface.
func Serialize(event Event, opts JSONOptions) ([]byte, error) {
	if event == nil {
		return nil, ErrEventRequired
	}

	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(opts.EscapeHTML)

	if opts.Indent != "" {
		encoder.SetIndent("", opts.Indent)
	}

	if err := encoder.Encode(event); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", EventTypeName(event), err)
	}

	// Encoder appends a trailing newline that Marshal would not.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Deserialize decodes data into a fresh value of eventType and returns it as
// an Event. Property name matching is case-insensitive, so content written
// by another process with different casing conventions still decodes.
func Deserialize(data []byte, eventType reflect.Type) (Event, error) {
	if eventType == nil {
		return nil, fmt.Errorf("%w: no event type given", ErrUnknownEventType)
	}

	eventType = indirectType(eventType)

	value := reflect.New(eventType)

	if err := json.Unmarshal(data, value.Interface()); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrMalformedPayload, eventType.Name(), err)
	}

	event, ok := value.Interface().(Event)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not implement Event", ErrUnknownEventType, eventType.Name())
	}

	return event, nil
}

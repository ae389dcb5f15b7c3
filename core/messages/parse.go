package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"
)

// ErrMalformedMessage is returned for payloads that are not valid JSON or do not match the
// message schema. Callers log and drop such messages.
var ErrMalformedMessage = errors.New("malformed message")

func keyError(errs []jsonschema.KeyError) error {
	s := strings.Builder{}
	for i, e := range errs {
		if i > 0 {
			s.WriteString("; ")
		}
		s.WriteString(e.Error())
	}
	return fmt.Errorf("%w: %s", ErrMalformedMessage, s.String())
}

func parse[T any](schema *jsonschema.Schema, payload []byte) (T, error) {
	var msg T
	keyErrs, err := schema.ValidateBytes(context.Background(), payload)
	if err != nil {
		return msg, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	if len(keyErrs) != 0 {
		return msg, keyError(keyErrs)
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	return msg, nil
}

// ParseFailure validates and decodes a failure message.
func ParseFailure(payload []byte) (FailureMessage, error) {
	return parse[FailureMessage](failureSchema, payload)
}

// ParseConfig validates and decodes a configuration message.
func ParseConfig(payload []byte) (ConfigMessage, error) {
	return parse[ConfigMessage](configSchema, payload)
}

// ParseDevice validates and decodes a device state message.
func ParseDevice(payload []byte) (DeviceMessage, error) {
	return parse[DeviceMessage](deviceSchema, payload)
}

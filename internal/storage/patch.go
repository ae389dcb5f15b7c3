package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManyThreads/horme/core/service"
	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ApplyMergePatch applies an RFC 7386 JSON merge patch to entry and returns the patched copy.
// The uuid of an entry is immutable.
func ApplyMergePatch(entry *service.ServiceEntry, patchJSON []byte) (*service.ServiceEntry, error) {
	original, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	patched, err := jsonpatch.MergePatch(original, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("invalid merge patch: %w", err)
	}

	var res service.ServiceEntry
	if err := json.Unmarshal(patched, &res); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, err)
	}
	if res.UUID != entry.UUID {
		return nil, errors.Join(ErrInvalidEntry, errors.New("uuid cannot be changed"))
	}
	if res.DependsOn == nil {
		res.DependsOn = []service.UUID{}
	}
	if err := validateEntry(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

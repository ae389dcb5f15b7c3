package storage

import (
	"encoding/json"

	"github.com/ManyThreads/horme/core/service"
	"github.com/rs/zerolog/log"
	"github.com/wI2L/jsondiff"
)

// logEntryDiff records what an update changed about an entry.
func logEntryDiff(prev, next *service.ServiceEntry) {
	patch, err := jsondiff.Compare(prev, next)
	if err != nil {
		log.Warn().Err(err).Str("uuid", next.UUID).Msg("unable to diff service entry")
		return
	}
	if len(patch) == 0 {
		return
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return
	}
	log.Debug().Str("uuid", next.UUID).RawJSON("patch", b).Msg("service entry updated")
}

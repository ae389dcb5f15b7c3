package process

import (
	"bufio"
	"io"

	"github.com/rs/zerolog/log"
)

// ForwardOutput logs every line read from r, tagged with the service it belongs to, until r is
// exhausted.
func ForwardOutput(r io.Reader, spec *Spec, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		log.Info().
			Str("type", spec.Type).
			Str("uuid", spec.UUID).
			Str("stream", stream).
			Msgf("from '%s/%s': %s", spec.Type, spec.UUID, line)
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("uuid", spec.UUID).Str("stream", stream).Msg("error reading process output")
	}
}

package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// envelopeVersion is bumped whenever the stored layout changes.
const envelopeVersion = 1

const (
	statusOK    = "ok"
	statusError = "error"
)

var errCorrupt = errors.New("corrupt cache entry")

// envelope is the stored form of a cached search. It is plain JSON data only.
type envelope struct {
	V         int               `json:"v"`
	Epoch     int64             `json:"epoch"`
	StoredAt  time.Time         `json:"stored_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Status    string            `json:"status"`
	Matches   []facematch.Match `json:"matches"`
	Error     string            `json:"error,omitempty"`
}

func encodeEnvelope(env *envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

// decodeEnvelope parses and sanity-checks a stored entry.
func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("%w: version %d", errCorrupt, env.V)
	}
	switch env.Status {
	case statusOK:
		if env.Matches == nil {
			env.Matches = []facematch.Match{}
		}
	case statusError:
		if env.Error == "" {
			return nil, fmt.Errorf("%w: error entry without message", errCorrupt)
		}
	default:
		return nil, fmt.Errorf("%w: status %q", errCorrupt, env.Status)
	}
	if env.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: missing expiry", errCorrupt)
	}
	return &env, nil
}

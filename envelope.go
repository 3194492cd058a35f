package surgecache

import (
	"encoding/json"
	"fmt"
)

// genModelField is the envelope gens key carrying the model-wide generation;
// conjunction generations are keyed by their hash.
const genModelField = "m"

// envelope is the stored form of one cache entry: the opaque result payload
// plus the generation fences observed when the entry's dependencies were
// registered. A populated entry is only trusted while every recorded
// generation still matches the store; an entry written after an overlapping
// invalidation carries outdated generations and reads as a miss. This is the
// logical fencing token that closes the register-then-store race without a
// lock.
type envelope struct {
	CreatedAt int64             `json:"c"`
	Gens      map[string]string `json:"g"`
	Payload   []byte            `json:"p"`
}

func (e envelope) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("surgecache: encode envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return envelope{}, fmt.Errorf("surgecache: decode envelope: %w", err)
	}
	return e, nil
}

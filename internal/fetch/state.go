package fetch

import (
	"encoding/json"
)

// validateResumeState checks cached cache-validator headers against what
// the server reports now; a mismatch means the remote content changed
// and any partial download must restart from scratch.
func validateResumeState(stateETag, stateLastModified, remoteETag, remoteLastModified string) bool {
	if stateETag != "" && remoteETag != "" && remoteETag != stateETag {
		return false
	}
	if stateLastModified != "" && remoteLastModified != "" && remoteLastModified != stateLastModified {
		return false
	}
	return true
}

// completedPartsToBitfield packs a completed-parts set into a compact bitmap.
func completedPartsToBitfield(completed map[int]bool, numParts int) []byte {
	if numParts <= 0 {
		return nil
	}
	bitfield := make([]byte, (numParts+7)/8)
	for id := range completed {
		if id >= 0 && id < numParts {
			bitfield[id/8] |= 1 << uint(id%8)
		}
	}
	return bitfield
}

// bitfieldToCompletedParts unpacks a compact bitmap back into a set.
func bitfieldToCompletedParts(bitfield []byte, numParts int) map[int]bool {
	result := make(map[int]bool)
	for id := 0; id < numParts; id++ {
		byteIdx := id / 8
		if byteIdx >= len(bitfield) {
			break
		}
		if bitfield[byteIdx]&(1<<uint(id%8)) != 0 {
			result[id] = true
		}
	}
	return result
}

// compactResumeState is the on-disk resume format: O(numParts/8) bytes
// instead of one PartState struct per chunk.
type compactResumeState struct {
	Version      int    `json:"v"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lm,omitempty"`
	TotalSize    int64  `json:"total_size"`
	NumParts     int    `json:"num_parts"`
	Bitmap       []byte `json:"bitmap,omitempty"`
}

// serializeState packs the completed-parts set into the compact resume
// format and marshals it to JSON for storage in a task's MetaJSON column.
func serializeState(completed map[int]bool, numParts int, totalSize int64, etag, lastModified string) string {
	state := compactResumeState{
		Version:      2,
		ETag:         etag,
		LastModified: lastModified,
		TotalSize:    totalSize,
		NumParts:     numParts,
		Bitmap:       completedPartsToBitfield(completed, numParts),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	return string(data)
}

// deserializeState recovers the completed-parts set and validators from
// a task's MetaJSON column, tolerating the empty string (no prior state).
func deserializeState(metaJSON string) (completed map[int]bool, etag, lastModified string, ok bool) {
	if metaJSON == "" {
		return nil, "", "", false
	}
	var state compactResumeState
	if err := json.Unmarshal([]byte(metaJSON), &state); err != nil {
		return nil, "", "", false
	}
	return bitfieldToCompletedParts(state.Bitmap, state.NumParts), state.ETag, state.LastModified, true
}

// Package hashchain computes and verifies the tamper-evident digest chain
// linking a project's progress entries.
//
// The digest algorithm is shared verbatim with the backend and the web
// console: any divergence would make every client-created entry look
// tampered, so Compute must stay bit-identical across implementations.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/provtrack/fieldsync/internal/schema"
)

// Compute returns the hex-encoded SHA-256 digest for a progress entry.
//
// The digest covers the UTF-8 concatenation of the project ID, the
// description, the decimal percent, and the previous entry's digest (empty
// string for the first entry of a chain), in that exact order.
func Compute(projectID, description string, percent int, previousHash string) string {
	sum := sha256.Sum256([]byte(projectID + description + strconv.Itoa(percent) + previousHash))
	return hex.EncodeToString(sum[:])
}

// Result reports the outcome of a chain verification.
type Result struct {
	// Valid is true when every entry links and hashes correctly.
	Valid bool

	// BrokenAt is the index of the first entry that fails verification,
	// or -1 when the chain is valid.
	BrokenAt int
}

// Verify walks entries ordered by local creation time, recomputing each
// digest from stored fields and checking linkage to the predecessor.
//
// The local store holds only part of the global chain: rejected entries
// are excluded, and an entry regenerated against the server's chain
// head links to a digest no local entry carries. A PreviousHash that
// matches no local digest therefore starts a new segment rather than
// breaking the chain; within a segment, linkage is strict.
//
// A failure at index i means one of:
//   - entry i's PreviousHash names a local entry that is not its
//     immediate predecessor (or is empty mid-chain),
//   - entry i's stored CurrentHash differs from the digest recomputed
//     from its stored content fields (local corruption or mutation).
//
// Verification stops at the first broken entry.
func Verify(entries []*schema.ProgressEntry) Result {
	local := make(map[string]bool, len(entries))
	for _, e := range entries {
		local[e.CurrentHash] = true
	}

	prev := ""
	for i, e := range entries {
		if Compute(e.ProjectID, e.Description, e.Percent, e.PreviousHash) != e.CurrentHash {
			return Result{Valid: false, BrokenAt: i}
		}
		switch {
		case e.PreviousHash == prev:
		case e.PreviousHash != "" && !local[e.PreviousHash]:
			// Segment start: the predecessor lives outside the local
			// store.
		default:
			return Result{Valid: false, BrokenAt: i}
		}
		prev = e.CurrentHash
	}
	return Result{Valid: true, BrokenAt: -1}
}

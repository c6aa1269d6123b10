package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/provtrack/fieldsync/internal/schema"
)

// chainOf builds a valid n-entry chain for a single project.
func chainOf(t *testing.T, projectID string, n int) []*schema.ProgressEntry {
	t.Helper()

	entries := make([]*schema.ProgressEntry, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		desc := fmt.Sprintf("week %d inspection", i+1)
		percent := (i + 1) * 10
		e := &schema.ProgressEntry{
			LocalID:      fmt.Sprintf("local-%d", i),
			ProjectID:    projectID,
			Description:  desc,
			Percent:      percent,
			PreviousHash: prev,
			CurrentHash:  Compute(projectID, desc, percent, prev),
			CreatedAt:    time.Now(),
			SyncStatus:   schema.StatusPending,
		}
		entries = append(entries, e)
		prev = e.CurrentHash
	}
	return entries
}

// TestCompute_Deterministic verifies the digest is stable and matches a
// hand-computed SHA-256 over the documented concatenation.
func TestCompute_Deterministic(t *testing.T) {
	got := Compute("proj-1", "foundation poured", 25, "")

	sum := sha256.Sum256([]byte("proj-1" + "foundation poured" + "25" + ""))
	want := hex.EncodeToString(sum[:])

	if got != want {
		t.Errorf("Compute() = %q, want %q", got, want)
	}

	if again := Compute("proj-1", "foundation poured", 25, ""); again != got {
		t.Errorf("Compute() not deterministic: %q != %q", again, got)
	}
}

// TestCompute_PreviousHashChangesDigest verifies linkage affects the digest.
func TestCompute_PreviousHashChangesDigest(t *testing.T) {
	first := Compute("proj-1", "desc", 10, "")
	linked := Compute("proj-1", "desc", 10, first)

	if first == linked {
		t.Error("digest did not change when previous hash was included")
	}
}

// TestVerify_ValidChain checks that freshly created chains verify clean.
func TestVerify_ValidChain(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 20} {
		entries := chainOf(t, "proj-1", n)

		res := Verify(entries)
		if !res.Valid {
			t.Errorf("Verify(%d entries) broken at %d, want valid", n, res.BrokenAt)
		}
		if res.BrokenAt != -1 {
			t.Errorf("Verify(%d entries) BrokenAt = %d, want -1", n, res.BrokenAt)
		}
	}
}

// TestVerify_MutatedContent checks that editing an early entry's content
// after creation is detected at that entry's index.
func TestVerify_MutatedContent(t *testing.T) {
	entries := chainOf(t, "proj-1", 3)
	entries[0].Description = "retroactively embellished"

	res := Verify(entries)
	if res.Valid {
		t.Fatal("Verify() valid after mutating entry 0, want broken")
	}
	if res.BrokenAt != 0 {
		t.Errorf("BrokenAt = %d, want 0", res.BrokenAt)
	}
}

// TestVerify_BrokenLinkage checks that rewriting a previous_hash pointer
// is detected.
func TestVerify_BrokenLinkage(t *testing.T) {
	entries := chainOf(t, "proj-1", 3)
	entries[2].PreviousHash = entries[0].CurrentHash // skips entry 1

	res := Verify(entries)
	if res.Valid {
		t.Fatal("Verify() valid with broken linkage, want broken")
	}
	if res.BrokenAt != 2 {
		t.Errorf("BrokenAt = %d, want 2", res.BrokenAt)
	}
}

// TestVerify_SegmentStartAtUnknownPredecessor checks that an entry
// linking to a digest no local entry carries starts a new segment
// rather than breaking the chain. This is the shape the store produces
// when an entry's predecessor was rejected and excluded, or when a
// replacement was generated against the server's chain head.
func TestVerify_SegmentStartAtUnknownPredecessor(t *testing.T) {
	entries := chainOf(t, "proj-1", 3)
	res := Verify(entries[1:]) // predecessor of the first is not stored

	if !res.Valid {
		t.Errorf("Verify() broken at %d, want valid segment restart", res.BrokenAt)
	}
}

// TestVerify_ForgedRelinkToLocalEntry checks that relinking an entry to
// a stored local entry that is not its immediate predecessor is caught
// even when the digest is recomputed to match the forged linkage.
func TestVerify_ForgedRelinkToLocalEntry(t *testing.T) {
	entries := chainOf(t, "proj-1", 3)
	e := entries[2]
	e.PreviousHash = entries[0].CurrentHash // skips entry 1
	e.CurrentHash = Compute(e.ProjectID, e.Description, e.Percent, e.PreviousHash)

	res := Verify(entries)
	if res.Valid {
		t.Fatal("Verify() valid after forged relink, want broken")
	}
	if res.BrokenAt != 2 {
		t.Errorf("BrokenAt = %d, want 2", res.BrokenAt)
	}
}

// TestVerify_EmptyPreviousHashMidChain checks that a chain restart with
// an empty previous_hash while a predecessor is locally stored fails.
func TestVerify_EmptyPreviousHashMidChain(t *testing.T) {
	entries := chainOf(t, "proj-1", 2)
	e := &schema.ProgressEntry{
		LocalID:     "local-restart",
		ProjectID:   "proj-1",
		Description: "pretends to start over",
		Percent:     90,
		CurrentHash: Compute("proj-1", "pretends to start over", 90, ""),
		CreatedAt:   time.Now(),
		SyncStatus:  schema.StatusPending,
	}
	entries = append(entries, e)

	res := Verify(entries)
	if res.Valid {
		t.Fatal("Verify() valid with empty previous_hash mid-chain, want broken")
	}
	if res.BrokenAt != 2 {
		t.Errorf("BrokenAt = %d, want 2", res.BrokenAt)
	}
}

// TestVerify_TwoEntryLinkage mirrors the documented two-entry case:
// B.previous_hash == H(A) and B's stored digest recomputes correctly.
func TestVerify_TwoEntryLinkage(t *testing.T) {
	entries := chainOf(t, "proj-1", 2)
	a, b := entries[0], entries[1]

	if b.PreviousHash != a.CurrentHash {
		t.Errorf("B.PreviousHash = %q, want %q", b.PreviousHash, a.CurrentHash)
	}

	recomputed := Compute(b.ProjectID, b.Description, b.Percent, b.PreviousHash)
	if recomputed != b.CurrentHash {
		t.Errorf("recomputed digest %q != stored %q", recomputed, b.CurrentHash)
	}
}

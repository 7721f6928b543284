package booking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/turfbook/turfbook/internal/model"
)

// DedupKey derives the deterministic idempotency token for a booking
// request.  Identical requests (same renter, field, date, slot set,
// interval and occupant count) always produce the same key, so a
// retried submission collapses onto the same processor operation
// instead of charging twice.  Slot labels are normalized (trimmed,
// lowercased, sorted) before hashing so ordering and formatting noise
// cannot change the key.
func DedupKey(renterID, fieldID uint64, date time.Time, slots []string, interval model.Interval, occupants int) string {
	norm := make([]string, 0, len(slots))
	for _, s := range slots {
		norm = append(norm, strings.ToLower(strings.TrimSpace(s)))
	}
	sort.Strings(norm)
	payload := fmt.Sprintf("%d|%d|%s|%s|%s|%d",
		renterID, fieldID, date.UTC().Format("2006-01-02"),
		strings.Join(norm, ","), interval, occupants)
	sum := sha256.Sum256([]byte(payload))
	return "bk_" + hex.EncodeToString(sum[:])
}

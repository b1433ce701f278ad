package id

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RequestID returns a fresh correlation id for one $batch sub-request.
func RequestID() string {
	return uuid.NewString()
}

// RunID returns an id that tags every log line and sync-log row of one run.
func RunID() string {
	return uuid.NewString()
}

// TempLineID returns the placeholder request id for a line that has no
// remote id yet: "temp_0", "temp_1", ...
func TempLineID(index int) string {
	return fmt.Sprintf("temp_%d", index)
}

// IsTempLineID reports whether a request id was produced by TempLineID.
func IsTempLineID(s string) bool {
	return strings.HasPrefix(s, "temp_")
}

// JournalCode derives the 10 character journal code from its display name.
// "JE-0001" -> first ten hex digits of sha256("JE-0001"), upper-cased.
func JournalCode(displayName string) string {
	sum := sha256.Sum256([]byte(displayName))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:10])
}

// IsGUID reports whether s is a canonical GUID. OData compares GUID keys
// unquoted.
func IsGUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

package semver

import (
	masterminds "github.com/Masterminds/semver/v3"

	"github.com/morezero/vault-ipc/pkg/ipcerr"
)

// ProtocolVersion is the IPC protocol version reported by init.
const ProtocolVersion = "1.0.0"

// DefaultProtocolConstraint is the protocol range clients accept by default.
const DefaultProtocolConstraint = "^1"

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}
	if IsExactVersion(rangeStr) {
		exact, err := masterminds.NewVersion(rangeStr)
		return err == nil && sv.Equal(exact)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// CheckCompatible returns a VERSION_MISMATCH error when version does not
// satisfy rangeStr. An empty range accepts anything; a range with no
// reported version does not.
func CheckCompatible(subject, version, rangeStr string) error {
	if rangeStr == "" {
		return nil
	}
	if version == "" {
		return ipcerr.Newf(ipcerr.CodeVersionMismatch, "%s reported no version, want %s", subject, rangeStr)
	}
	if !SatisfiesRange(version, rangeStr) {
		return ipcerr.Newf(ipcerr.CodeVersionMismatch, "%s version %s does not satisfy %s", subject, version, rangeStr)
	}
	return nil
}

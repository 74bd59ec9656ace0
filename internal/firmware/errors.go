package firmware

import "errors"

// Domain errors.
var (
	// ErrNoFirmware is returned by Cache.Get when a refresh was attempted
	// and nothing is cached.
	ErrNoFirmware = errors.New("firmware: no firmware available")

	// ErrNoRelease is returned by a Source that holds no releases.
	ErrNoRelease = errors.New("firmware: no release published")

	ErrInvalidRelease = errors.New("firmware: invalid release")
	ErrReleaseExists  = errors.New("firmware: release version already published")
)

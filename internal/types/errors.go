package types

import "errors"

// Error kinds returned by the loader and its components. Callers match with
// errors.Is; every kind except ErrSectionNotPresent aborts the load.
var (
	// ErrNotLoaded is returned when an operation requires a prior load
	// stage that has not completed.
	ErrNotLoaded = errors.New("container not loaded")
	// ErrAlreadyLoaded is returned when the terminal load is invoked twice.
	ErrAlreadyLoaded = errors.New("container already loaded")
	// ErrInvalidFormat covers magic mismatches, corrupt headers and
	// decompression bounds violations.
	ErrInvalidFormat = errors.New("invalid container format")
	// ErrUnsupportedCrypto covers unknown container versions, unknown
	// crypto-method bytes and seed crypto.
	ErrUnsupportedCrypto = errors.New("unsupported crypto")
	// ErrKeyUnavailable is returned when a required key slot has no
	// material. No default key is ever substituted.
	ErrKeyUnavailable = errors.New("key slot material unavailable")
	// ErrDecryptionFailed is returned when the post-decrypt program-id
	// check fails, meaning the derived keys were wrong.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrSectionNotPresent is returned for a name miss in the section
	// table. Recoverable: icon, banner and logo are optional.
	ErrSectionNotPresent = errors.New("section not present")
	// ErrIO covers short reads and regions exceeding the file extent.
	ErrIO = errors.New("i/o error")
	// ErrAllocationFailed is returned when a declared section size exceeds
	// the loader's buffer cap.
	ErrAllocationFailed = errors.New("allocation failed")
)

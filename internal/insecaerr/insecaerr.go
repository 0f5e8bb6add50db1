// Package insecaerr declares the error kinds shared by every component, per
// the propagation policy of spec §7: components surface their kind and a
// human description; callers compose no partial success on failure.
package insecaerr

import "errors"

// Kind enumerates the error kinds a component may report. An error's kind
// is tested with Is or extracted with KindOf; there are no sentinel errors.
type Kind int

const (
	KindInvalidConfig Kind = iota
	KindMissingReference
	KindDuplicateID
	KindInvalidParameter
	KindWrongPassphrase
	KindDeviceBusy
	KindDeviceUnsupported
	KindKernelSyncFailed
	KindFilesystemError
	KindEncryptionError
	KindOutOfMemory
	KindMetadataCorrupt
	KindSignatureInvalid
	KindIntegrityMismatch
	KindRepositoryLocked
	KindRepositoryCorrupt
	KindArchiveMissing
	KindNetworkUnreachable
	KindSyncTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindMissingReference:
		return "MissingReference"
	case KindDuplicateID:
		return "DuplicateId"
	case KindInvalidParameter:
		return "InvalidParameter"
	case KindWrongPassphrase:
		return "WrongPassphrase"
	case KindDeviceBusy:
		return "DeviceBusy"
	case KindDeviceUnsupported:
		return "DeviceUnsupported"
	case KindKernelSyncFailed:
		return "KernelSyncFailed"
	case KindFilesystemError:
		return "FilesystemError"
	case KindEncryptionError:
		return "EncryptionError"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindMetadataCorrupt:
		return "MetadataCorrupt"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindIntegrityMismatch:
		return "IntegrityMismatch"
	case KindRepositoryLocked:
		return "RepositoryLocked"
	case KindRepositoryCorrupt:
		return "RepositoryCorrupt"
	case KindArchiveMissing:
		return "ArchiveMissing"
	case KindNetworkUnreachable:
		return "NetworkUnreachable"
	case KindSyncTimeout:
		return "SyncTimeout"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error carries a Kind alongside the human description and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, keeping cause for errors.Is/As.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or a false ok if err is not (or does not
// wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

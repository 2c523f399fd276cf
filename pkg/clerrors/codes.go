// Package clerrors defines the typed error kinds the replication engine
// raises: a BaseError carrying a code and message, sentinel errors for
// quick checks, and Is* predicates.
package clerrors

// Error codes, one per kind of failure the engine surfaces to callers.
const (
	CodeBadUpdate             = "BAD_UPDATE"
	CodeBadClock              = "BAD_CLOCK"
	CodeUnauthorised          = "UNAUTHORISED"
	CodeOperationSizeExceeded = "OPERATION_SIZE_EXCEEDED"
	CodeDatasetInUse          = "DATASET_IN_USE"
	CodeNotGenesis            = "NOT_GENESIS"
	CodeIsGenesis             = "IS_GENESIS"
	CodeNoPeer                = "NO_PEER"
	CodeTimeout               = "TIMEOUT"
	CodeClosed                = "CLOSED"
	CodeCorruption            = "CORRUPTION"
	CodeOverflow              = "OVERFLOW"
	// CodeInternal is the default code Wrap assigns to an untyped
	// underlying error (e.g. a plain store/IO failure). It carries no
	// fatality implication, unlike CodeCorruption.
	CodeInternal = "INTERNAL"
)

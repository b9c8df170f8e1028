package marshal

import "github.com/goliatone/go-record/pkg/field"

// The error taxonomy is defined in pkg/field beside the descriptor model;
// these aliases give callers the names they reach for without a second
// import. errors.As matches either spelling since aliases share identity.
type (
	// InvalidMetadataError reports tags that cannot produce a valid
	// descriptor set. Surfaces on first resolution of a type.
	InvalidMetadataError = field.InvalidMetadataError

	// MissingFieldError reports input lacking a required key.
	MissingFieldError = field.MissingFieldError

	// TypeCoercionError reports a value no conversion rule accepts.
	TypeCoercionError = field.TypeCoercionError

	// DateFormatError reports a time value that violates its field layout.
	DateFormatError = field.DateFormatError

	// PathError scopes a failure to a nested record or list position.
	PathError = field.PathError
)

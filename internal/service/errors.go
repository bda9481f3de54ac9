package service

import "errors"

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrUnsupportedProvider = errors.New("unsupported AI provider")

	// ErrExtractionFailure covers oracle failures and unusable oracle output.
	ErrExtractionFailure = errors.New("extraction failed")

	// ErrMaterializationFailure means a storage write failed after a
	// decision was made. The document status is left untouched.
	ErrMaterializationFailure = errors.New("materialization failed")

	// ErrTenantConflict guards tenant isolation: the document's transaction
	// belongs to a different tenant than the one being written.
	ErrTenantConflict = errors.New("transaction belongs to another tenant")

	// ErrDocumentBusy is returned when another run holds the document.
	ErrDocumentBusy = errors.New("document is being processed")
)

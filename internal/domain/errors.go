package domain

import "errors"

var (
	ErrNoTablesFound           = errors.New("no tables found in document")
	ErrNormalizationParse      = errors.New("could not parse normalization response")
	ErrRowSchema               = errors.New("row does not match the canonical schema")
	ErrNoProviderAvailable     = errors.New("no inference provider available")
	ErrProviderRejected        = errors.New("inference provider rejected the request")
	ErrAllCredentialsExhausted = errors.New("all inference credentials exhausted")
	ErrUnsupportedDocument     = errors.New("unsupported document type")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrRunNotFound             = errors.New("pipeline run not found")
)

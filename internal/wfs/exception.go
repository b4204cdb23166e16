package wfs

import "fmt"

// OGC exception codes used by the transaction engine and front-end.
const (
	CodeInvalidParameterValue = "InvalidParameterValue"
	CodeOperationNotSupported = "OperationNotSupported"
	CodeNoApplicableCode      = "NoApplicableCode"
)

// OGCError is a domain error that surfaces to the client as an
// ows:ExceptionReport rather than a bare HTTP failure.
type OGCError struct {
	Code    string
	Message string
}

func (e *OGCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func ogcErrorf(code, format string, args ...any) *OGCError {
	return &OGCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ExceptionReport renders an ows:ExceptionReport document.
func ExceptionReport(code, text string) []byte {
	return []byte(
		`<?xml version="1.0" encoding="UTF-8"?>` +
			`<ows:ExceptionReport xmlns:ows="` + nsOWS + `" version="2.0.0">` +
			`<ows:Exception exceptionCode="` + code + `">` +
			`<ows:ExceptionText>` + xmlEscape(text) + `</ows:ExceptionText>` +
			`</ows:Exception>` +
			`</ows:ExceptionReport>`)
}

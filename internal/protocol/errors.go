package protocol

import (
	"errors"
	"strings"
)

const (
	// Agent message faults. The connection stays up.
	ErrProtoParse  = "E_PROTO_PARSE"
	ErrProtoSchema = "E_PROTO_SCHEMA"
	ErrProtoType   = "E_PROTO_TYPE"

	// Transport faults. The connection is torn down and the bridge disengages.
	ErrTransportDial   = "E_TRANSPORT_DIAL"
	ErrTransportWrite  = "E_TRANSPORT_WRITE"
	ErrTransportRead   = "E_TRANSPORT_READ"
	ErrTransportClosed = "E_TRANSPORT_CLOSED"

	ErrRemoteShutdown = "E_REMOTE_SHUTDOWN"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoParse:      {},
	ErrProtoSchema:     {},
	ErrProtoType:       {},
	ErrTransportDial:   {},
	ErrTransportWrite:  {},
	ErrTransportRead:   {},
	ErrTransportClosed: {},
	ErrRemoteShutdown:  {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a classified bridge fault.
type Error struct {
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the fault code carried by err, or "" if it has none.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsProtocolFault reports whether err is a malformed or unrecognized agent
// message, as opposed to a transport fault.
func IsProtocolFault(err error) bool {
	return strings.HasPrefix(CodeOf(err), "E_PROTO_")
}

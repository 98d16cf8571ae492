package whatsapp

import "fmt"

// SignalKind names a lifecycle transition of the messaging client. The
// values double as the event names sent to real-time subscribers.
type SignalKind string

const (
	SignalQR            SignalKind = "qr"
	SignalReady         SignalKind = "ready"
	SignalAuthenticated SignalKind = "authenticated"
	SignalAuthFailure   SignalKind = "auth_failure"
	SignalDisconnected  SignalKind = "disconnected"
	SignalError         SignalKind = "error"
)

// Signal is one lifecycle event raised by a Client.
type Signal struct {
	Kind SignalKind
	// Payload is the QR code for SignalQR and the reason for
	// SignalAuthFailure and SignalDisconnected.
	Payload string
	// Err is set for SignalError.
	Err error
}

func QR(code string) Signal             { return Signal{Kind: SignalQR, Payload: code} }
func Ready() Signal                     { return Signal{Kind: SignalReady} }
func Authenticated() Signal             { return Signal{Kind: SignalAuthenticated} }
func AuthFailure(reason string) Signal  { return Signal{Kind: SignalAuthFailure, Payload: reason} }
func Disconnected(reason string) Signal { return Signal{Kind: SignalDisconnected, Payload: reason} }

// Failure wraps err as a SignalError. A nil err becomes "unknown error".
func Failure(err error) Signal {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	return Signal{Kind: SignalError, Err: err}
}

// ErrorText is the message of Err, or "" when the signal carries none.
func (s Signal) ErrorText() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

func (s Signal) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("%s: %v", s.Kind, s.Err)
	case s.Payload != "" && s.Kind != SignalQR:
		return fmt.Sprintf("%s: %s", s.Kind, s.Payload)
	}
	return string(s.Kind)
}

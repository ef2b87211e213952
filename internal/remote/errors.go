package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrPluginNotInitialized is the transient condition the bot reports
	// while its tag plugin is still starting. Match it with errors.Is.
	ErrPluginNotInitialized = errors.New("plugin not initialized")

	// ErrNoTaskID means the server accepted a create but did not return an id.
	// Ids are never made up locally.
	ErrNoTaskID = errors.New("server returned no task id")
)

const pluginNotInitialized = "Plugin not initialized"

// APIError is a rejection reported by the server in an error body.
// Message is meant to be shown to the operator as-is.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Op, msg, e.Status)
}

// Is lets errors.Is(err, ErrPluginNotInitialized) match the server's
// not-initialized body regardless of HTTP status.
func (e *APIError) Is(target error) bool {
	return target == ErrPluginNotInitialized && strings.EqualFold(strings.TrimSpace(e.Message), pluginNotInitialized)
}

// TransportError is any failure to get a usable response: dial errors,
// timeouts, cancelled contexts, undecodable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// OperatorMessage renders err the way it should be shown to an operator:
// server rejections verbatim, everything else with its error text.
func OperatorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *APIError
	if errors.As(err, &ae) && strings.TrimSpace(ae.Message) != "" {
		return ae.Message
	}
	return err.Error()
}

// Package remote is the HTTP client for the bot's tag-manager API.
//
// Failures are split the way callers need to handle them:
//   - *APIError: the server answered with an error body; show Message verbatim.
//   - ErrPluginNotInitialized: the transient startup condition (errors.Is).
//   - *TransportError: no usable response at all.
package remote

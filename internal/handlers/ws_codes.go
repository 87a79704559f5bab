// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the room and game handlers. These
// give clients more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was missing, invalid, or expired.
)

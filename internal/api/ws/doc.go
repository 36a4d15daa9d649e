// Package ws streams runtime notifications to admin clients over WebSocket.
//
// Each connection subscribes to the notification hub. The hub never blocks
// the loop, so a client that reads too slowly misses notifications instead
// of delaying frames.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - recent: Request the retained notification history
//
// Message Types (Server → Client):
//   - system: Connection established
//   - notification: Crash, defect, leak, install, removal, foreground or refusal
//   - recent: Retained history
//   - pong, error
//
// Example Usage:
//
//	handler := ws.NewHandler(hub, metrics, logger)
//	router.GET("/stream", handler.HandleConnection)
package ws

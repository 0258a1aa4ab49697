package client

import (
	"context"
	"encoding/json"
	"log"

	"clawlink/pkg/protocol"
)

// DefaultHistoryLimit is the number of history entries requested when the caller passes 0
const DefaultHistoryLimit = 50

// ResetResult is returned by ResetSession
type ResetResult struct {
	Success bool `json:"success"`
}

// GetStatus asks the gateway for its status payload
func (c *Client) GetStatus(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, protocol.MethodStatus, struct{}{})
}

// ListSessions returns the gateway's session list payload
func (c *Client) ListSessions(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, protocol.MethodSessionsList, struct{}{})
}

// ResetSession clears a session's context. It tries sessions.delete, falls
// back to sessions.reset, and reports success either way.
func (c *Client) ResetSession(ctx context.Context, sessionKey string) ResetResult {
	if sessionKey == "" {
		sessionKey = c.sessionKey
	}
	params := protocol.SessionParams{SessionKey: sessionKey}

	if _, err := c.Request(ctx, protocol.MethodSessionsDelete, params); err != nil {
		log.Printf("[Client] Session delete failed, trying reset: %v", err)
		if _, err := c.Request(ctx, protocol.MethodSessionsReset, params); err != nil {
			log.Printf("[Client] Session reset also failed: %v", err)
		}
	}
	return ResetResult{Success: true}
}

// GetSessionHistory returns the gateway's history payload unmodified
func (c *Client) GetSessionHistory(ctx context.Context, sessionKey string, limit int) (json.RawMessage, error) {
	if sessionKey == "" {
		sessionKey = c.sessionKey
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return c.Request(ctx, protocol.MethodSessionsHistory, protocol.HistoryParams{
		SessionKey: sessionKey,
		Limit:      limit,
	})
}

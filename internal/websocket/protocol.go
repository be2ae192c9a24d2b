// internal/websocket/protocol.go
package websocket

import (
	"encoding/json"
	"fmt"

	xerrors "audiotricks-service/internal/pkg/errors"
)

// Handshake failures. All of them answer 401.
var (
	ErrInvalidToken     = fmt.Errorf("invalid token: %w", xerrors.ErrUnauthorized)
	ErrTokenBlacklisted = fmt.Errorf("token has been revoked: %w", xerrors.ErrUnauthorized)
	ErrSessionExpired   = fmt.Errorf("websocket session: %w", xerrors.ErrSessionExpired)
)

// DecodeData converts the generic Data of an inbound message into a typed
// request. The message was already parsed once, so this re-encodes it.
func DecodeData(data interface{}, target interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("malformed %T: %w", target, err)
	}
	return nil
}

package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/torrin/pkg/upload"
)

func encodeSession(session *upload.Session) ([]byte, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*upload.Session, error) {
	var session upload.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

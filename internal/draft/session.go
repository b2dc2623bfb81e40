package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-food-diary/internal/food"
)

// SessionStore is the durable per-user blob store backing the cache.
// Get returns nil, nil when the user has no session.
type SessionStore interface {
	Get(ctx context.Context, userID int64) ([]byte, error)
	Put(ctx context.Context, userID int64, blob []byte) error
}

// Session is the per-user state persisted as one blob.
type Session struct {
	Step           string                 `json:"step,omitempty"`
	EditingDraftID string                 `json:"editing_draft_id,omitempty"`
	Drafts         map[string]StoredDraft `json:"drafts,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// StoredDraft is a draft with its creation time.
type StoredDraft struct {
	Analysis  food.Analysis `json:"analysis"`
	CreatedAt time.Time     `json:"created_at"`
}

func decodeSession(blob []byte) (*Session, error) {
	s := &Session{}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, s); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
	}
	if s.Drafts == nil {
		s.Drafts = make(map[string]StoredDraft)
	}
	return s, nil
}

func encodeSession(s *Session) ([]byte, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return blob, nil
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RemoteUser is the persisted record of a remote actor following a
// local account. Only the id is interpreted; every other field of the
// actor document is carried through untouched so that vendor
// extensions survive a store/load round trip.
type RemoteUser struct {
	ID    string
	Extra map[string]any
}

func (r *RemoteUser) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	id, _ := m["id"].(string)
	delete(m, "id")
	r.ID = id
	r.Extra = m
	return nil
}

func (r RemoteUser) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+1)
	for k, v := range r.Extra {
		m[k] = v
	}
	m["id"] = r.ID
	return json.Marshal(m)
}

// Inbox returns the follower's inbox URI if the stored actor document
// carried one.
func (r *RemoteUser) Inbox() (string, bool) {
	v, ok := r.Extra["inbox"].(string)
	return v, ok && v != ""
}

// DeliveryQueueItem is one pending outbound delivery. The follower's
// actor is re-resolved at delivery time so a moved inbox is picked up.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	ActorURI     string
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mewl/minipub/db"
	"github.com/mewl/minipub/domain"
)

// PublicAudience is the ActivityStreams marker for public addressing.
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// Accept wraps a received activity to acknowledge it. The original
// activity is embedded verbatim (extensions included) so the remote
// side can correlate it.
type Accept struct {
	Context any       `json:"@context"`
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Actor   string    `json:"actor"`
	Object  *Activity `json:"object"`
}

func BuildAccept(localActorID string, original *Activity) *Accept {
	obj := *original
	// the wrapper carries the context
	obj.Context = nil
	return &Accept{
		Context: ContextURIs,
		ID:      fmt.Sprintf("%s/accept/%s", localActorID, uuid.New().String()),
		Type:    "Accept",
		Actor:   localActorID,
		Object:  &obj,
	}
}

// NoteObject is the federated rendering of a local note.
type NoteObject struct {
	Context      any      `json:"@context,omitempty"`
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	Published    string   `json:"published"`
	To           []string `json:"to"`
	Cc           []string `json:"cc,omitempty"`
	InReplyTo    string   `json:"inReplyTo,omitempty"`
}

func NoteID(origin string, noteId string) string {
	return fmt.Sprintf("%s/notes/%s", origin, noteId)
}

func BuildNoteObject(origin string, actorID string, note *domain.Note) *NoteObject {
	to := note.To
	if len(to) == 0 {
		to = []string{PublicAudience}
	}
	cc := note.Cc
	if len(cc) == 0 {
		cc = []string{actorID + "/followers"}
	}
	return &NoteObject{
		ID:           NoteID(origin, note.Id.String()),
		Type:         "Note",
		AttributedTo: actorID,
		Content:      note.Source,
		Published:    note.CreatedAt.UTC().Format(time.RFC3339),
		To:           to,
		Cc:           cc,
		InReplyTo:    note.InReplyTo,
	}
}

// Create wraps a note for delivery to followers.
type Create struct {
	Context   any         `json:"@context"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Published string      `json:"published"`
	To        []string    `json:"to"`
	Cc        []string    `json:"cc,omitempty"`
	Object    *NoteObject `json:"object"`
}

func BuildCreate(origin string, actorID string, note *domain.Note) *Create {
	obj := BuildNoteObject(origin, actorID, note)
	return &Create{
		Context:   ContextURIsExtended,
		ID:        fmt.Sprintf("%s/activities/%s", origin, uuid.New().String()),
		Type:      "Create",
		Actor:     actorID,
		Published: obj.Published,
		To:        obj.To,
		Cc:        obj.Cc,
		Object:    obj,
	}
}

// EnqueueCreateForFollowers writes one delivery queue item per
// follower of the account. Each follower is delivered to
// independently by the queue worker, so a dead inbox never blocks the
// others or the note itself.
func EnqueueCreateForFollowers(database *db.DB, accountId uuid.UUID, create *Create) (int, error) {
	followers, err := database.ReadFollowersByAccId(accountId)
	if err != nil {
		return 0, fmt.Errorf("failed to read followers: %w", err)
	}

	activityJSON, err := json.Marshal(create)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal activity: %w", err)
	}

	now := time.Now().UTC()
	enqueued := 0
	for _, follower := range followers {
		item := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			ActorURI:     follower.ID,
			ActivityJSON: string(activityJSON),
			NextRetryAt:  now,
			CreatedAt:    now,
		}
		if err := database.EnqueueDelivery(item); err != nil {
			log.Printf("Outbox: Failed to enqueue delivery to %s: %v", follower.ID, err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		log.Printf("Outbox: Enqueued %s for %d follower(s)", create.ID, enqueued)
	}
	return enqueued, nil
}

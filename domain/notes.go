package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Note is locally authored content, rendered as an ActivityStreams
// Note object and fanned out to followers inside a Create activity.
type Note struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	CreatedBy string // username, denormalized for feeds
	Source    string
	CreatedAt time.Time
	To        []string
	Cc        []string
	InReplyTo string
}

type CreateNoteParams struct {
	AccountId uuid.UUID
	Content   string
	InReplyTo string
}

func NewNote(params CreateNoteParams) *Note {
	return &Note{
		Id:        uuid.New(),
		AccountId: params.AccountId,
		Source:    params.Content,
		InReplyTo: params.InReplyTo,
		CreatedAt: time.Now().UTC(),
	}
}

func (note *Note) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tCreatedBy: %s \n\tSource: %s \n\tCreatedAt: %s)", note.Id, note.CreatedBy, note.Source, note.CreatedAt)
}

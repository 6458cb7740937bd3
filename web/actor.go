package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mewl/minipub/activitypub"
)

const activityJSONContentType = "application/activity+json; charset=utf-8"

// handleActor serves the actor document. The canonical path segment
// is the account id; a request by username gets a permanent redirect
// to the id path so old profile links keep working after a rename.
func (s *Server) handleActor(c *gin.Context) {
	param := c.Param("id")

	accId, err := uuid.Parse(param)
	if err != nil {
		acc, err := s.database.ReadAccByUsername(param)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
			return
		}
		c.Redirect(http.StatusMovedPermanently, activitypub.ActorID(s.origin(), acc.Id.String()))
		return
	}

	acc, err := s.database.ReadAccById(accId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}

	person := activitypub.BuildPerson(s.origin(), acc, s.publicKeyPem)
	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, person)
}

// handleNote serves a single note as an ActivityPub object.
func (s *Server) handleNote(c *gin.Context) {
	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid note ID"})
		return
	}

	note, err := s.database.ReadNoteById(noteId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}

	actorID := activitypub.ActorID(s.origin(), note.AccountId.String())
	obj := activitypub.BuildNoteObject(s.origin(), actorID, note)
	obj.Context = activitypub.ContextURIs

	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, obj)
}

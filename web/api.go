package web

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mewl/minipub/activitypub"
	"github.com/mewl/minipub/domain"
	"github.com/mewl/minipub/util"
)

type createAccountRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"displayName"`
}

// handleCreateAccount registers a local user. There is no signup
// flow; accounts come in through the token-guarded API.
func (s *Server) handleCreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	acc := domain.NewAccount(util.NormalizeInput(req.Username), req.DisplayName)
	if err := s.database.CreateAccount(acc); err != nil {
		log.Printf("Api: Failed to create account %s: %v", req.Username, err)
		c.JSON(http.StatusConflict, gin.H{"error": "could not create account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       acc.Id.String(),
		"username": acc.Username,
		"actor":    activitypub.ActorID(s.origin(), acc.Id.String()),
	})
}

type createNoteRequest struct {
	Username  string `json:"username" binding:"required"`
	Content   string `json:"content" binding:"required"`
	InReplyTo string `json:"inReplyTo"`
}

// handleCreateNote stores a note and enqueues its Create activity for
// every follower. The note is persisted before fan-out: delivery
// failures are the queue worker's problem, not the author's.
func (s *Server) handleCreateNote(c *gin.Context) {
	var req createNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and content are required"})
		return
	}

	acc, err := s.database.ReadAccByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}

	note := domain.NewNote(domain.CreateNoteParams{
		AccountId: acc.Id,
		Content:   util.NormalizeInput(req.Content),
		InReplyTo: req.InReplyTo,
	})
	if err := s.database.CreateNote(note); err != nil {
		log.Printf("Api: Failed to store note for %s: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store note"})
		return
	}

	actorID := activitypub.ActorID(s.origin(), acc.Id.String())
	create := activitypub.BuildCreate(s.origin(), actorID, note)
	enqueued, err := activitypub.EnqueueCreateForFollowers(s.database, acc.Id, create)
	if err != nil {
		log.Printf("Api: Fan-out enqueue failed for note %s: %v", note.Id, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       note.Id.String(),
		"note":     activitypub.NoteID(s.origin(), note.Id.String()),
		"activity": create.ID,
		"enqueued": enqueued,
	})
}

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mewl/minipub/activitypub"
	"github.com/mewl/minipub/domain"
)

// handleOutbox serves every note of the user as a single unpaginated
// collection. Instances this small never accumulate enough notes for
// paging to pay off.
func (s *Server) handleOutbox(c *gin.Context) {
	acc, ok := s.accountFromPath(c)
	if !ok {
		return
	}

	notes, err := s.database.ReadNotesByAccId(acc.Id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	actorID := activitypub.ActorID(s.origin(), acc.Id.String())
	items := make([]any, 0, len(notes))
	for i := range notes {
		items = append(items, activitypub.BuildNoteObject(s.origin(), actorID, &notes[i]))
	}

	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, activitypub.BuildOrderedCollection(actorID+"/outbox", items, activitypub.ContextURIsExtended))
}

// handleFollowers lists follower actor ids.
func (s *Server) handleFollowers(c *gin.Context) {
	acc, ok := s.accountFromPath(c)
	if !ok {
		return
	}

	followers, err := s.database.ReadFollowersByAccId(acc.Id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	items := make([]any, 0, len(followers))
	for _, follower := range followers {
		items = append(items, follower.ID)
	}

	actorID := activitypub.ActorID(s.origin(), acc.Id.String())
	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, activitypub.BuildOrderedCollection(actorID+"/followers", items, activitypub.ContextURIs))
}

// handleFollowing is always empty: this instance only federates
// outward, local users do not follow remote actors.
func (s *Server) handleFollowing(c *gin.Context) {
	acc, ok := s.accountFromPath(c)
	if !ok {
		return
	}

	actorID := activitypub.ActorID(s.origin(), acc.Id.String())
	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, activitypub.BuildOrderedCollection(actorID+"/following", nil, activitypub.ContextURIs))
}

func (s *Server) accountFromPath(c *gin.Context) (*domain.Account, bool) {
	accId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return nil, false
	}
	acc, err := s.database.ReadAccById(accId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return nil, false
	}
	return acc, true
}

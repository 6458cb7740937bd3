package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mewl/minipub/activitypub"
)

// handleInbox receives activities addressed to one local user and
// maps the dispatcher's error kinds onto HTTP statuses.
func (s *Server) handleInbox(c *gin.Context) {
	acc, ok := s.accountFromPath(c)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	resp, err := s.dispatcher.Dispatch(c.Request, body, acc)
	if err != nil {
		c.JSON(inboxErrorStatus(err), gin.H{"error": http.StatusText(inboxErrorStatus(err))})
		return
	}

	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, resp)
}

// handleSharedInbox verifies the signature like any inbox, but this
// instance does not route shared deliveries; the answer is always 404
// so senders fall back to per-user inboxes.
func (s *Server) handleSharedInbox(c *gin.Context) {
	if err := s.dispatcher.Verify(c.Request); err != nil {
		log.Printf("Inbox: Shared inbox signature verification failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
}

// handleInboxCollection serves the inbox as an always-empty
// collection; reading other servers' deliveries back out is not
// supported.
func (s *Server) handleInboxCollection(c *gin.Context) {
	acc, ok := s.accountFromPath(c)
	if !ok {
		return
	}

	id := activitypub.ActorID(s.origin(), acc.Id.String()) + "/inbox"
	c.Header("Content-Type", activityJSONContentType)
	c.JSON(http.StatusOK, activitypub.BuildOrderedCollection(id, nil, activitypub.ContextURIs))
}

func inboxErrorStatus(err error) int {
	var sigErr *activitypub.SignatureError
	if errors.As(err, &sigErr) {
		return http.StatusUnauthorized
	}
	var schemaErr *activitypub.SchemaError
	if errors.As(err, &schemaErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mewl/minipub/activitypub"
	"github.com/mewl/minipub/util"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

// handleWebfinger resolves acct:username@domain to the actor id.
// Lookups go by username, but the returned href is the id-based actor
// URI, so remotes always land on the canonical path.
func (s *Server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	acct := strings.TrimPrefix(resource, "acct:")
	username, domain, found := strings.Cut(acct, "@")
	if found && domain != s.conf.Conf.SslDomain {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	acc, err := s.database.ReadAccByUsername(username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, webfingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, s.conf.Conf.SslDomain),
		Links: []webfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: activitypub.ActorID(s.origin(), acc.Id.String()),
			},
		},
	})
}

// handleHostMeta serves the XRD document pointing at webfinger; some
// older servers still discover through it.
func (s *Server) handleHostMeta(c *gin.Context) {
	c.Header("Content-Type", "application/xrd+xml; charset=utf-8")
	c.String(http.StatusOK, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="%s/.well-known/webfinger?resource={uri}"/>
</XRD>
`, s.origin())
}

func (s *Server) handleNodeInfoDiscovery(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"links": []gin.H{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				"href": s.origin() + "/nodeinfo/2.1",
			},
		},
	})
}

func (s *Server) handleNodeInfo(c *gin.Context) {
	total, err := s.database.CountAccounts()
	if err != nil {
		total = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"version": "2.1",
		"software": gin.H{
			"name":    util.Name,
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services":  gin.H{"inbound": []string{}, "outbound": []string{}},
		"openRegistrations": false,
		"usage": gin.H{
			"users": gin.H{"total": total},
		},
		"metadata": gin.H{},
	})
}

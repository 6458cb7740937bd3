package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
	"github.com/mewl/minipub/domain"
)

func (s *Server) handleFeed(c *gin.Context) {
	c.Header("Content-Type", "application/xml; charset=utf-8")
	rss, err := s.buildFeed(c.Query("username"))
	if err != nil {
		c.String(http.StatusNotFound, "")
		return
	}
	c.String(http.StatusOK, rss)
}

func (s *Server) handleFeedItem(c *gin.Context) {
	c.Header("Content-Type", "application/xml; charset=utf-8")
	feedId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "")
		return
	}
	rss, err := s.buildFeedItem(feedId)
	if err != nil {
		c.String(http.StatusNotFound, "")
		return
	}
	c.String(http.StatusOK, rss)
}

func (s *Server) buildFeed(username string) (string, error) {
	var notes []domain.Note
	var err error
	var title, createdBy string

	link := s.origin() + "/feed"

	if username != "" {
		acc, accErr := s.database.ReadAccByUsername(username)
		if accErr != nil {
			log.Printf("Feed: Could not get notes from %s: %v", username, accErr)
			return "", errors.New("error retrieving notes by username")
		}
		notes, err = s.database.ReadNotesByAccId(acc.Id)
		if err != nil || len(notes) == 0 {
			return "", errors.New("error retrieving notes by username")
		}
		title = fmt.Sprintf("Minipub Notes - %s", username)
		createdBy = username
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		notes, err = s.database.ReadAllNotes()
		if err != nil || len(notes) == 0 {
			return "", errors.New("error retrieving notes")
		}
		title = "All Minipub Notes"
		createdBy = "everyone"
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("notes published on %s", s.conf.Conf.SslDomain),
		Author:      &feeds.Author{Name: createdBy, Email: fmt.Sprintf("%s@%s", createdBy, s.conf.Conf.SslDomain)},
		Created:     time.Now(),
	}

	for _, note := range notes {
		feed.Items = append(feed.Items, s.feedItem(&note))
	}
	return feed.ToRss()
}

func (s *Server) buildFeedItem(id uuid.UUID) (string, error) {
	note, err := s.database.ReadNoteById(id)
	if err != nil {
		log.Println("Feed: Could not get note!", err)
		return "", errors.New("error retrieving note by id")
	}

	feed := &feeds.Feed{
		Title:       "Single Minipub Note",
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/feed/%s", s.origin(), note.Id)},
		Description: fmt.Sprintf("notes published on %s", s.conf.Conf.SslDomain),
		Author:      &feeds.Author{Name: note.CreatedBy, Email: fmt.Sprintf("%s@%s", note.CreatedBy, s.conf.Conf.SslDomain)},
		Created:     time.Now(),
		Items:       []*feeds.Item{s.feedItem(note)},
	}
	return feed.ToRss()
}

func (s *Server) feedItem(note *domain.Note) *feeds.Item {
	return &feeds.Item{
		Id:      note.Id.String(),
		Title:   note.CreatedAt.Format("2006-01-02 15:04"),
		Link:    &feeds.Link{Href: fmt.Sprintf("%s/feed/%s", s.origin(), note.Id)},
		Content: note.Source,
		Author:  &feeds.Author{Name: note.CreatedBy, Email: fmt.Sprintf("%s@%s", note.CreatedBy, s.conf.Conf.SslDomain)},
		Created: note.CreatedAt,
	}
}

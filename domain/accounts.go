package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProfileField is a single name/value pair shown on a profile,
// federated as a schema.org PropertyValue attachment.
type ProfileField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Account is a local user. The Id is the stable identity used in actor
// URIs; the username is mutable and only used for lookups and display.
type Account struct {
	Id          uuid.UUID
	Username    string
	DisplayName string
	Summary     string
	AvatarURL   string
	Fields      []ProfileField
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewAccount(username string, displayName string) *Account {
	now := time.Now().UTC()
	if displayName == "" {
		displayName = username
	}
	return &Account{
		Id:          uuid.New(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCreatedAt: %s)", acc.Id, acc.Username, acc.CreatedAt)
}

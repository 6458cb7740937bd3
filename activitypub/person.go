package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mewl/minipub/domain"
)

// Image is an actor icon reference.
type Image struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

// PropertyValue is a schema.org name/value pair used for profile
// fields, the way Mastodon renders table rows on a profile.
type PropertyValue struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func BuildPropertyValue(name string, value string) PropertyValue {
	return PropertyValue{Type: "PropertyValue", Name: name, Value: value}
}

// Endpoints carries the shared inbox advertisement.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Person is the federation-visible actor document. It is a view
// derived per request from a local account, never persisted.
type Person struct {
	Context                   any             `json:"@context,omitempty"`
	ID                        string          `json:"id"`
	Type                      string          `json:"type"`
	PreferredUsername         string          `json:"preferredUsername,omitempty"`
	Name                      string          `json:"name,omitempty"`
	Summary                   string          `json:"summary,omitempty"`
	Icon                      *Image          `json:"icon,omitempty"`
	Inbox                     string          `json:"inbox"`
	Outbox                    string          `json:"outbox"`
	Followers                 string          `json:"followers,omitempty"`
	Following                 string          `json:"following,omitempty"`
	URL                       string          `json:"url,omitempty"`
	Published                 string          `json:"published,omitempty"`
	Updated                   string          `json:"updated,omitempty"`
	ManuallyApprovesFollowers bool            `json:"manuallyApprovesFollowers"`
	Discoverable              bool            `json:"discoverable"`
	Endpoints                 *Endpoints      `json:"endpoints,omitempty"`
	Attachment                []PropertyValue `json:"attachment,omitempty"`
	PublicKey                 *PublicKey      `json:"publicKey,omitempty"`
}

// ActorID derives the canonical actor id for an account. It is built
// from the immutable account id, never the username: usernames change,
// links must not.
func ActorID(origin string, accountID string) string {
	return fmt.Sprintf("%s/users/%s", origin, accountID)
}

// BuildPerson maps a local account to its actor document. The public
// key is attached only when a PEM is supplied, separating the
// federation-facing view from internal uses.
func BuildPerson(origin string, acc *domain.Account, publicKeyPem string) *Person {
	id := ActorID(origin, acc.Id.String())

	attachments := make([]PropertyValue, 0, len(acc.Fields))
	for _, f := range acc.Fields {
		attachments = append(attachments, BuildPropertyValue(f.Name, f.Value))
	}

	person := &Person{
		Context:           ContextURIsExtended,
		ID:                id,
		Type:              "Person",
		PreferredUsername: acc.Username,
		Name:              acc.DisplayName,
		Summary:           acc.Summary,
		Inbox:             id + "/inbox",
		Outbox:            id + "/outbox",
		Followers:         id + "/followers",
		Following:         id + "/following",
		URL:               id,
		Published:         acc.CreatedAt.UTC().Format(time.RFC3339),
		Updated:           acc.UpdatedAt.UTC().Format(time.RFC3339),
		// This instance auto-accepts every follow request; there is
		// no approval queue.
		ManuallyApprovesFollowers: false,
		Discoverable:              true,
		Endpoints:                 &Endpoints{SharedInbox: origin + "/inbox"},
		Attachment:                attachments,
	}

	if acc.AvatarURL != "" {
		person.Icon = &Image{Type: "Image", URL: acc.AvatarURL}
	}

	if publicKeyPem != "" {
		person.PublicKey = &PublicKey{
			ID:           PublicKeyID(id),
			Owner:        id,
			PublicKeyPem: publicKeyPem,
		}
	}

	return person
}

// FetchPersonByID GETs a remote actor document.
func FetchPersonByID(ctx context.Context, client *http.Client, userAgent string, actorURI string) (*Person, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURI, nil)
	if err != nil {
		return nil, &RemoteFetchError{URL: actorURI, Err: err}
	}
	req.Header.Set("Accept", "application/activity+json, application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &RemoteFetchError{URL: actorURI, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteFetchError{URL: actorURI, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteFetchError{URL: actorURI, Err: err}
	}

	var person Person
	if err := json.Unmarshal(body, &person); err != nil {
		return nil, &RemoteFetchError{URL: actorURI, Err: err}
	}
	if person.ID == "" || person.Inbox == "" {
		return nil, &RemoteFetchError{URL: actorURI, Err: fmt.Errorf("actor missing required fields")}
	}

	return &person, nil
}

package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/mewl/minipub/db"
	"github.com/mewl/minipub/domain"
)

// Dispatcher runs the inbox pipeline: verify the HTTP signature,
// parse the activity, then dispatch on its kind. Follow and
// Undo(Follow) get the Accept handshake; everything else is
// acknowledged without processing.
type Dispatcher struct {
	database   *db.DB
	agent      *Agent
	client     *http.Client
	userAgent  string
	origin     string
	resolveKey ResolvePublicKeyFn
}

// NewDispatcher wires the dispatcher. A nil resolveKey installs the
// network resolver; tests pass their own.
func NewDispatcher(database *db.DB, agent *Agent, origin string, userAgent string, resolveKey ResolvePublicKeyFn) *Dispatcher {
	d := &Dispatcher{
		database:  database,
		agent:     agent,
		client:    &http.Client{Timeout: PostTimeout},
		userAgent: userAgent,
		origin:    origin,
	}
	if resolveKey == nil {
		resolveKey = FetchPublicKey(d.client, userAgent)
	}
	d.resolveKey = resolveKey
	return d
}

// Verify checks the request signature only. Used by the shared inbox,
// which verifies and then rejects.
func (d *Dispatcher) Verify(r *http.Request) error {
	return VerifyRequest(r, d.resolveKey)
}

// Dispatch processes one activity addressed to a local account. The
// returned map is the response body; errors carry their kind
// (SignatureError, SchemaError, ...) for the HTTP layer to map.
func (d *Dispatcher) Dispatch(r *http.Request, body []byte, account *domain.Account) (map[string]any, error) {
	if err := VerifyRequest(r, d.resolveKey); err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		return nil, err
	}

	// The signature covers the Digest header, not the body itself;
	// lock the two together here.
	if digest := r.Header.Get("Digest"); digest != "" && digest != "SHA-256="+ComputeDigest(body) {
		log.Printf("Inbox: Digest does not match body")
		return nil, &SignatureError{Reason: "digest does not match body"}
	}

	activity, err := ParseActivity(body)
	if err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		return nil, err
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor.ID())

	switch activity.Kind {
	case KindFollow:
		return d.handleFollow(r.Context(), account, activity)
	case KindUndo:
		if activity.Object != nil && activity.Object.IsFollow() {
			return d.handleUndoFollow(r.Context(), account, activity)
		}
		return map[string]any{}, nil
	default:
		// Create, Accept, Like, Delete, ... are acknowledged but not
		// processed.
		return map[string]any{}, nil
	}
}

// handleFollow accepts the follow and records the follower. The
// Accept is delivered synchronously so the handshake either completes
// or the request fails loudly.
func (d *Dispatcher) handleFollow(ctx context.Context, account *domain.Account, activity *Activity) (map[string]any, error) {
	actorURI := activity.Actor.ID()

	person, err := FetchPersonByID(ctx, d.client, d.userAgent, actorURI)
	if err != nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", actorURI, err)
		return nil, err
	}
	if person.Inbox == "" {
		return nil, &RemoteFetchError{URL: actorURI, Err: fmt.Errorf("actor has no inbox")}
	}

	localActorID := ActorID(d.origin, account.Id.String())
	accept := BuildAccept(localActorID, activity)
	if err := d.agent.PostActivity(ctx, person.Inbox, PublicKeyID(localActorID), accept); err != nil {
		log.Printf("Inbox: Failed to deliver Accept to %s: %v", person.Inbox, err)
		return nil, err
	}

	follower, err := remoteUserFromPerson(person)
	if err != nil {
		return nil, err
	}
	if err := d.database.UpsertFollower(account.Id, follower); err != nil {
		log.Printf("Inbox: Failed to store follower %s: %v", actorURI, err)
		return nil, err
	}

	log.Printf("Inbox: %s now follows %s", actorURI, account.Username)
	return map[string]any{"ok": true}, nil
}

// handleUndoFollow accepts the undo and drops the follower record.
// Undoing a follow we never recorded succeeds anyway.
func (d *Dispatcher) handleUndoFollow(ctx context.Context, account *domain.Account, activity *Activity) (map[string]any, error) {
	actorURI := activity.Actor.ID()

	person, err := FetchPersonByID(ctx, d.client, d.userAgent, actorURI)
	if err != nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", actorURI, err)
		return nil, err
	}

	localActorID := ActorID(d.origin, account.Id.String())
	accept := BuildAccept(localActorID, activity)
	if err := d.agent.PostActivity(ctx, person.Inbox, PublicKeyID(localActorID), accept); err != nil {
		log.Printf("Inbox: Failed to deliver Accept to %s: %v", person.Inbox, err)
		return nil, err
	}

	if err := d.database.DeleteFollower(account.Id, actorURI); err != nil {
		log.Printf("Inbox: Failed to delete follower %s: %v", actorURI, err)
		return nil, err
	}

	log.Printf("Inbox: %s unfollowed %s", actorURI, account.Username)
	return map[string]any{"ok": true}, nil
}

func remoteUserFromPerson(person *Person) (*domain.RemoteUser, error) {
	doc, err := json.Marshal(person)
	if err != nil {
		return nil, err
	}
	var follower domain.RemoteUser
	if err := json.Unmarshal(doc, &follower); err != nil {
		return nil, err
	}
	return &follower, nil
}

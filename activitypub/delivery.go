package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/mewl/minipub/db"
	"github.com/mewl/minipub/domain"
)

// PostTimeout bounds a single outbound POST, including the remote
// server's processing time.
const PostTimeout = 10 * time.Second

const (
	workerInterval      = 10 * time.Second
	deliveryBatchSize   = 50
	deliveryConcurrency = 4
	maxDeliveryAttempts = 10
)

// retry schedule in minutes; the last step repeats until give-up
var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// Agent signs and posts activities to remote inboxes. All local
// actors share the instance key; the per-actor keyId is passed per
// call.
type Agent struct {
	client     *http.Client
	userAgent  string
	privateKey *rsa.PrivateKey
}

func NewAgent(userAgent string, privateKey *rsa.PrivateKey) *Agent {
	return &Agent{
		client:     &http.Client{Timeout: PostTimeout},
		userAgent:  userAgent,
		privateKey: privateKey,
	}
}

// PostActivity marshals the activity and posts it signed. The digest
// is computed over the exact bytes sent.
func (a *Agent) PostActivity(ctx context.Context, inboxURI string, keyID string, activity any) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return a.PostRaw(ctx, inboxURI, keyID, body)
}

// PostRaw posts pre-serialized activity bytes to an inbox, signing
// with the agent's key under the given keyId.
func (a *Agent) PostRaw(ctx context.Context, inboxURI string, keyID string, body []byte) error {
	signed, err := SignHeaders(http.MethodPost, inboxURI, body, keyID, a.privateKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Host = signed["Host"]
	req.Header.Set("Date", signed["Date"])
	req.Header.Set("Digest", signed["Digest"])
	req.Header.Set("Signature", signed["Signature"])
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return &DeliveryError{Inbox: inboxURI, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Inbox: inboxURI, Status: resp.StatusCode}
	}
	return nil
}

// Worker drains the delivery queue in the background. Deliveries in a
// batch run concurrently up to deliveryConcurrency; failures are
// rescheduled with exponential backoff and dropped after
// maxDeliveryAttempts.
type Worker struct {
	database *db.DB
	agent    *Agent
	client   *http.Client
}

func NewWorker(database *db.DB, agent *Agent) *Worker {
	return &Worker{
		database: database,
		agent:    agent,
		client:   &http.Client{Timeout: PostTimeout},
	}
}

// Start runs the worker until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Println("DeliveryWorker: Starting delivery worker...")
	ticker := time.NewTicker(workerInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Println("DeliveryWorker: Stopped")
				return
			case <-ticker.C:
				w.ProcessQueue(ctx)
			}
		}
	}()
}

// ProcessQueue handles one batch of due deliveries.
func (w *Worker) ProcessQueue(ctx context.Context) {
	items, err := w.database.ReadPendingDeliveries(time.Now().UTC(), deliveryBatchSize)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(items))

	var wg sync.WaitGroup
	sem := make(chan struct{}, deliveryConcurrency)
	for i := range items {
		item := items[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.processItem(ctx, &item)
		}()
	}
	wg.Wait()
}

func (w *Worker) processItem(ctx context.Context, item *domain.DeliveryQueueItem) {
	if err := w.deliver(ctx, item); err != nil {
		item.Attempts++
		if item.Attempts >= maxDeliveryAttempts {
			log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.ActorURI, item.Attempts)
			w.database.DeleteDelivery(item.Id)
			return
		}
		backoff := backoffMinutes[min(item.Attempts-1, len(backoffMinutes)-1)]
		item.NextRetryAt = time.Now().UTC().Add(time.Duration(backoff) * time.Minute)
		log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
			item.ActorURI, item.Attempts, backoff, err)
		w.database.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
		return
	}
	log.Printf("DeliveryWorker: Successfully delivered to %s", item.ActorURI)
	w.database.DeleteDelivery(item.Id)
}

// deliver resolves the follower's actor fresh (a moved inbox is
// picked up on retry) and posts the stored activity bytes.
func (w *Worker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	activity, err := ParseActivity([]byte(item.ActivityJSON))
	if err != nil {
		return fmt.Errorf("stored activity is malformed: %w", err)
	}
	keyID := PublicKeyID(activity.Actor.ID())

	person, err := FetchPersonByID(ctx, w.client, w.agent.userAgent, item.ActorURI)
	if err != nil {
		return fmt.Errorf("failed to resolve actor: %w", err)
	}
	if person.Inbox == "" {
		return fmt.Errorf("actor %s has no inbox", item.ActorURI)
	}

	return w.agent.PostRaw(ctx, person.Inbox, keyID, []byte(item.ActivityJSON))
}

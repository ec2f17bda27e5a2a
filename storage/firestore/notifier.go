package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/viralboard/membersync/pkg/membersync"
)

// Notifier implements membersync.Notifier by writing one document per
// recipient into a notifications collection read by the dashboard inbox.
type Notifier struct {
	client     *firestore.Client
	collection string
}

// NewNotifier creates a notifier. collection defaults to "notifications".
func NewNotifier(client *firestore.Client, collection string) (*Notifier, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if collection == "" {
		collection = "notifications"
	}
	return &Notifier{client: client, collection: collection}, nil
}

// Notify implements membersync.Notifier
func (n *Notifier) Notify(ctx context.Context, uid string, notice membersync.Notice) error {
	_, _, err := n.client.Collection(n.collection).Add(ctx, map[string]interface{}{
		"recipientUid": uid,
		"kind":         notice.Kind,
		"accountUid":   notice.AccountUID,
		"externalId":   notice.ExternalID,
		"plan":         string(notice.Plan),
		"previousPlan": string(notice.PreviousPlan),
		"tierLabel":    notice.TierLabel,
		"at":           notice.At,
		"read":         false,
		"createdAt":    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

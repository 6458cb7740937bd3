package activitypub

// OrderedCollection renders followers/following/outbox. Collections
// are rebuilt fresh per request; totalItems always matches the
// rendered items. No pagination: small instances federate the whole
// collection in one page.
type OrderedCollection struct {
	Context      any    `json:"@context,omitempty"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	TotalItems   int    `json:"totalItems"`
	OrderedItems []any  `json:"orderedItems"`
}

func BuildOrderedCollection(id string, items []any, contextURIs any) *OrderedCollection {
	if items == nil {
		items = []any{}
	}
	return &OrderedCollection{
		Context:      contextURIs,
		ID:           id,
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}
}

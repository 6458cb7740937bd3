package activitypub

import (
	"encoding/json"
)

// Kind discriminates the activity union. Anything outside the four
// handled literals parses as KindGeneric rather than failing, so
// unknown vocabulary from other servers never hard-errors.
type Kind string

const (
	KindFollow  Kind = "Follow"
	KindUndo    Kind = "Undo"
	KindAccept  Kind = "Accept"
	KindCreate  Kind = "Create"
	KindGeneric Kind = "Generic"
)

// ObjectRef is either a bare URI or an embedded object. ActivityPub
// allows both forms anywhere an object is referenced.
type ObjectRef struct {
	URI      string
	Embedded map[string]any
}

func (ref *ObjectRef) UnmarshalJSON(data []byte) error {
	var uri string
	if err := json.Unmarshal(data, &uri); err == nil {
		ref.URI = uri
		ref.Embedded = nil
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	ref.URI = ""
	ref.Embedded = m
	return nil
}

func (ref ObjectRef) MarshalJSON() ([]byte, error) {
	if ref.Embedded != nil {
		return json.Marshal(ref.Embedded)
	}
	return json.Marshal(ref.URI)
}

// ID resolves the reference to a URI: the bare URI itself, or the
// embedded object's id.
func (ref *ObjectRef) ID() string {
	if ref.URI != "" {
		return ref.URI
	}
	if id, ok := ref.Embedded["id"].(string); ok {
		return id
	}
	return ""
}

// Type returns the embedded object's type tag. A bare URI carries no
// type to inspect, so it returns "".
func (ref *ObjectRef) Type() string {
	if ref.Embedded == nil {
		return ""
	}
	t, _ := ref.Embedded["type"].(string)
	return t
}

func (ref *ObjectRef) IsFollow() bool { return ref.Type() == string(KindFollow) }
func (ref *ObjectRef) IsUndo() bool   { return ref.Type() == string(KindUndo) }
func (ref *ObjectRef) IsAccept() bool { return ref.Type() == string(KindAccept) }

// Activity is the typed core of an ActivityStreams activity plus a
// side map of every top-level field we do not interpret. The side map
// is merged back on serialization, so vendor extensions survive a
// parse/rebuild round trip.
type Activity struct {
	Context any
	ID      string
	Type    string
	Kind    Kind
	Actor   ObjectRef
	Object  *ObjectRef
	Extra   map[string]any
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	a.Context = m["@context"]
	a.ID, _ = m["id"].(string)
	a.Type, _ = m["type"].(string)

	if raw, ok := m["actor"]; ok {
		if err := reparseRef(raw, &a.Actor); err != nil {
			return err
		}
	}
	if raw, ok := m["object"]; ok {
		var ref ObjectRef
		if err := reparseRef(raw, &ref); err != nil {
			return err
		}
		a.Object = &ref
	}

	delete(m, "@context")
	delete(m, "id")
	delete(m, "type")
	delete(m, "actor")
	delete(m, "object")
	a.Extra = m

	a.Kind = classify(a)
	return nil
}

func (a Activity) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(a.Extra)+5)
	for k, v := range a.Extra {
		m[k] = v
	}
	if a.Context != nil {
		m["@context"] = a.Context
	}
	if a.ID != "" {
		m["id"] = a.ID
	}
	if a.Type != "" {
		m["type"] = a.Type
	}
	if a.Actor.URI != "" || a.Actor.Embedded != nil {
		m["actor"] = a.Actor
	}
	if a.Object != nil {
		m["object"] = a.Object
	}
	return json.Marshal(m)
}

func reparseRef(raw any, ref *ObjectRef) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return ref.UnmarshalJSON(b)
}

// classify narrows to one of the four handled kinds only when the
// activity has the shape that kind requires; everything else is
// generic. All four handled kinds are transitive and need an object
// that resolves to an id.
func classify(a *Activity) Kind {
	switch Kind(a.Type) {
	case KindFollow, KindUndo, KindAccept, KindCreate:
		if a.Object != nil && a.Object.ID() != "" {
			return Kind(a.Type)
		}
	}
	return KindGeneric
}

// ParseActivity parses untrusted JSON into the activity union. The
// type tag and actor are mandatory; the actor must resolve to a URI.
// Unknown types and malformed objects degrade to KindGeneric instead
// of failing, per the forward-compatibility contract.
func ParseActivity(body []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, &SchemaError{Reason: err.Error()}
	}
	if a.Type == "" {
		return nil, &SchemaError{Reason: "missing type"}
	}
	if a.Actor.ID() == "" {
		return nil, &SchemaError{Reason: "missing or malformed actor"}
	}
	return &a, nil
}

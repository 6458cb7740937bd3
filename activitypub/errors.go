package activitypub

import "fmt"

// SchemaError reports a malformed or unclassifiable activity/object.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("activity schema: %s", e.Reason)
}

// SignatureError reports a missing or invalid HTTP Signature, or an
// unresolvable signer key.
type SignatureError struct {
	Reason string
	Err    error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http signature: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("http signature: %s", e.Reason)
}

func (e *SignatureError) Unwrap() error { return e.Err }

// RemoteFetchError reports a failed GET of a remote actor or key.
type RemoteFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *RemoteFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("remote fetch %s: status %d", e.URL, e.Status)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// DeliveryError reports a non-2xx response delivering an activity.
type DeliveryError struct {
	Inbox  string
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s: %v", e.Inbox, e.Err)
	}
	return fmt.Sprintf("delivery to %s: status %d", e.Inbox, e.Status)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

package activitypub

// ContextURIs is the minimal JSON-LD context for plain activities.
var ContextURIs = []any{
	"https://www.w3.org/ns/activitystreams",
}

// ContextURIsExtended additionally declares the vendor terms used on
// outbound Person and Create payloads so Mastodon and Misskey peers
// can interpret the extension fields.
var ContextURIsExtended = []any{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
	map[string]any{
		"manuallyApprovesFollowers": "as:manuallyApprovesFollowers",
		"sensitive":                 "as:sensitive",
		"Hashtag":                   "as:Hashtag",
		"quoteUrl":                  "as:quoteUrl",
		"toot":                      "http://joinmastodon.org/ns#",
		"discoverable":              "toot:discoverable",
		"Emoji":                     "toot:Emoji",
		"featured":                  "toot:featured",
		"misskey":                   "https://misskey-hub.net/ns#",
		"schema":                    "http://schema.org#",
		"PropertyValue":             "schema:PropertyValue",
		"value":                     "schema:value",
	},
}

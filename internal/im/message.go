package im

import "strings"

// Kind is the closed set of referenced-message types the bot understands.
// Anything else collapses to KindOther, which still gets a serialized-body
// link scan during extraction.
type Kind string

const (
	KindText        Kind = "text"
	KindPost        Kind = "post"
	KindImage       Kind = "image"
	KindMedia       Kind = "media"
	KindFile        Kind = "file"
	KindInteractive Kind = "interactive"
	KindShareCard   Kind = "share_card"
	KindOther       Kind = "other"
)

// ParseKind maps a raw msg_type tag onto the known variants.
func ParseKind(raw string) Kind {
	switch Kind(strings.TrimSpace(raw)) {
	case KindText, KindPost, KindImage, KindMedia, KindFile, KindInteractive, KindShareCard:
		return Kind(strings.TrimSpace(raw))
	default:
		return KindOther
	}
}

// Referenced is a fetched parent message: the message a command replied to,
// carrying the attachments and links to copy into the accepted record.
type Referenced struct {
	MessageID string
	Kind      Kind
	Content   string // raw JSON body, shape depends on Kind
}

// ResourceKind selects the message-resource download endpoint variant.
const (
	ResourceImage = "image"
	ResourceFile  = "file"
)

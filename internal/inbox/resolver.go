package inbox

import (
	"time"

	"marketplace-inbox/internal/domain/conversation"
	inbox_errors "marketplace-inbox/pkg/errors"

	"github.com/google/uuid"
)

// DisplayMetadata is what the linking screen already knows about the
// counterpart. Missing fields fall back to placeholders.
type DisplayMetadata struct {
	Name      string
	AvatarURL string
}

// DeepLink asks to open the conversation with a counterpart about a listing.
type DeepLink struct {
	CounterpartID int64
	ContextID     int64
	ContextType   conversation.ContextType
	Display       *DisplayMetadata
}

func (l DeepLink) Context() conversation.Context {
	t := l.ContextType
	if t == "" {
		t = conversation.ContextProperty
	}
	return conversation.Context{Type: t, ID: l.ContextID}
}

// Validate rejects links that cannot name a conversation for self.
func (l DeepLink) Validate(self int64) error {
	const op = "resolve deep link"
	if l.CounterpartID <= 0 {
		return inbox_errors.Validation(op, "counterpart id is required")
	}
	if l.ContextID <= 0 {
		return inbox_errors.Validation(op, "context id is required")
	}
	if l.CounterpartID == self {
		return inbox_errors.Validation(op, "cannot open a conversation with yourself")
	}
	switch l.ContextType {
	case "", conversation.ContextProperty, conversation.ContextExperience, conversation.ContextService:
	default:
		return inbox_errors.Validation(op, "unknown context type "+string(l.ContextType))
	}
	return nil
}

// Resolver maps deep links onto the directory: an existing conversation
// when one matches, otherwise a fresh draft.
type Resolver struct {
	self              int64
	placeholderAvatar string
	now               func() time.Time
	newKey            func() string
}

func NewResolver(self int64, placeholderAvatar string) *Resolver {
	return &Resolver{
		self:              self,
		placeholderAvatar: placeholderAvatar,
		now:               func() time.Time { return time.Now().UTC() },
		newKey:            uuid.NewString,
	}
}

// Resolve returns exactly one of a matching persisted conversation or a new
// draft. The directory is not modified.
func (r *Resolver) Resolve(dir *Directory, link DeepLink) (*conversation.Persisted, *conversation.Draft, error) {
	if err := link.Validate(r.self); err != nil {
		return nil, nil, err
	}
	ctx := link.Context()
	if p := dir.Match(link.CounterpartID, ctx); p != nil {
		return p, nil, nil
	}
	return nil, r.draft(dir.Role(), link.CounterpartID, ctx, link.Display), nil
}

func (r *Resolver) draft(self conversation.Role, counterpartID int64, ctx conversation.Context, display *DisplayMetadata) *conversation.Draft {
	me := conversation.Participant{
		UserID:      r.self,
		Role:        self,
		DisplayName: placeholderName(self),
		AvatarURL:   r.placeholderAvatar,
	}
	other := conversation.Participant{
		UserID:      counterpartID,
		Role:        self.Opposite(),
		DisplayName: placeholderName(self.Opposite()),
		AvatarURL:   r.placeholderAvatar,
	}
	if display != nil {
		if display.Name != "" {
			other.DisplayName = display.Name
		}
		if display.AvatarURL != "" {
			other.AvatarURL = display.AvatarURL
		}
	}

	dr := &conversation.Draft{
		Key:       r.newKey(),
		Context:   ctx,
		CreatedAt: r.now(),
	}
	if self == conversation.RoleHost {
		dr.Host, dr.Guest = me, other
	} else {
		dr.Host, dr.Guest = other, me
	}
	return dr
}

func placeholderName(role conversation.Role) string {
	if role == conversation.RoleHost {
		return "Host"
	}
	return "Guest"
}

// sameTarget reports whether a draft and a link point at the same
// counterpart and listing.
func sameTarget(dr *conversation.Draft, self conversation.Role, counterpartID int64, ctx conversation.Context) bool {
	return conversation.Matches(dr, self, counterpartID, ctx)
}

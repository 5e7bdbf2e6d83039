package conversation

import (
	"fmt"
	"strings"
	"time"

	"marketplace-inbox/internal/domain/message"
)

// ContextType names the kind of listing a conversation is about. Listing ids
// are only unique within one type.
type ContextType string

const (
	ContextProperty   ContextType = "property"
	ContextExperience ContextType = "experience"
	ContextService    ContextType = "service"
)

// ParseContextType normalises a wire value; an empty value means property.
func ParseContextType(raw string) (ContextType, error) {
	switch ContextType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ContextProperty:
		return ContextProperty, nil
	case ContextExperience:
		return ContextExperience, nil
	case ContextService:
		return ContextService, nil
	}
	return "", fmt.Errorf("unknown context type %q", raw)
}

// Context identifies the listing a conversation concerns. Type and ID
// together form the key.
type Context struct {
	Type ContextType
	ID   int64
}

func (c Context) String() string {
	return fmt.Sprintf("%s:%d", c.Type, c.ID)
}

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleHost:
		return RoleHost, nil
	case RoleGuest:
		return RoleGuest, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Opposite returns the other side of the conversation.
func (r Role) Opposite() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

type Participant struct {
	UserID      int64
	Role        Role
	DisplayName string
	AvatarURL   string
	IsOnline    bool
}

// Entry is a directory slot: either a *Draft or a *Persisted conversation.
type Entry interface {
	Listing() Context
	Parties() (host, guest Participant)
	isEntry()
}

// Draft is a client-only conversation that has not been accepted by the
// marketplace yet. It carries no server id.
type Draft struct {
	Key       string
	Host      Participant
	Guest     Participant
	Context   Context
	CreatedAt time.Time
}

func (d *Draft) Listing() Context { return d.Context }
func (d *Draft) Parties() (host, guest Participant) { return d.Host, d.Guest }
func (*Draft) isEntry() {}

// Persisted is a conversation stored by the marketplace.
type Persisted struct {
	ID          int64
	Host        Participant
	Guest       Participant
	Context     Context
	LastMessage *message.Message
	UnreadCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Persisted) Listing() Context { return p.Context }
func (p *Persisted) Parties() (host, guest Participant) { return p.Host, p.Guest }
func (*Persisted) isEntry() {}

// Clone returns a deep copy so snapshots never alias actor-owned state.
func (p *Persisted) Clone() *Persisted {
	cp := *p
	if p.LastMessage != nil {
		m := *p.LastMessage
		cp.LastMessage = &m
	}
	return &cp
}

// Counterpart returns the participant on the other side from self.
func Counterpart(e Entry, self Role) Participant {
	host, guest := e.Parties()
	if self == RoleHost {
		return guest
	}
	return host
}

// Matches reports whether e is about ctx with the given counterpart, seen
// from the self role. Both context type and id must agree.
func Matches(e Entry, self Role, counterpartID int64, ctx Context) bool {
	if Counterpart(e, self).UserID != counterpartID {
		return false
	}
	listing := e.Listing()
	return listing.Type == ctx.Type && listing.ID == ctx.ID
}

package inbox

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"marketplace-inbox/internal/domain/conversation"
	"marketplace-inbox/internal/domain/message"
)

const (
	draftPrefix        = "draft:"
	conversationPrefix = "conversation:"
)

func DraftKey(key string) string {
	return draftPrefix + key
}

func ConversationKey(id int64) string {
	return conversationPrefix + strconv.FormatInt(id, 10)
}

// KeyOf returns the slot key of an entry.
func KeyOf(e conversation.Entry) string {
	switch v := e.(type) {
	case *conversation.Draft:
		return DraftKey(v.Key)
	case *conversation.Persisted:
		return ConversationKey(v.ID)
	}
	return ""
}

// Directory is the ordered list of one user's conversations in one role,
// plus the selected slot. A draft, when present, is always first. It is not
// safe for concurrent use; the owning session serialises access.
type Directory struct {
	role     conversation.Role
	entries  []conversation.Entry
	selected string
}

func NewDirectory(role conversation.Role) *Directory {
	return &Directory{role: role}
}

func (d *Directory) Role() conversation.Role {
	return d.role
}

func (d *Directory) Len() int {
	return len(d.entries)
}

func (d *Directory) Entries() []conversation.Entry {
	return slices.Clone(d.entries)
}

// Replace installs a freshly fetched list. A pending draft survives unless
// the role changed; the selection survives if its slot is still present.
func (d *Directory) Replace(role conversation.Role, fetched []*conversation.Persisted) {
	draft := d.Draft()
	if role != d.role {
		draft = nil
	}
	d.role = role

	seen := make(map[int64]struct{}, len(fetched))
	persisted := make([]*conversation.Persisted, 0, len(fetched))
	for _, p := range fetched {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		persisted = append(persisted, p)
	}
	slices.SortStableFunc(persisted, byRecency)

	entries := make([]conversation.Entry, 0, len(persisted)+1)
	if draft != nil {
		entries = append(entries, draft)
	}
	for _, p := range persisted {
		entries = append(entries, p)
	}
	d.entries = entries

	if _, i := d.Find(d.selected); i < 0 {
		d.selected = ""
	}
}

func byRecency(a, b *conversation.Persisted) int {
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (d *Directory) Find(key string) (conversation.Entry, int) {
	if key == "" {
		return nil, -1
	}
	for i, e := range d.entries {
		if KeyOf(e) == key {
			return e, i
		}
	}
	return nil, -1
}

func (d *Directory) Persisted(id int64) *conversation.Persisted {
	for _, e := range d.entries {
		if p, ok := e.(*conversation.Persisted); ok && p.ID == id {
			return p
		}
	}
	return nil
}

func (d *Directory) Draft() *conversation.Draft {
	if len(d.entries) == 0 {
		return nil
	}
	dr, _ := d.entries[0].(*conversation.Draft)
	return dr
}

func (d *Directory) Selected() conversation.Entry {
	e, _ := d.Find(d.selected)
	return e
}

func (d *Directory) SelectedKey() string {
	return d.selected
}

// Select marks the slot as active. It returns nil and leaves the selection
// unchanged when the slot does not exist.
func (d *Directory) Select(key string) conversation.Entry {
	e, _ := d.Find(key)
	if e != nil {
		d.selected = key
	}
	return e
}

// PutDraft installs dr as the only draft, first in the list, and returns the
// draft it replaced.
func (d *Directory) PutDraft(dr *conversation.Draft) *conversation.Draft {
	prev := d.DropDraft()
	d.entries = slices.Insert(d.entries, 0, conversation.Entry(dr))
	return prev
}

// DropDraft removes the pending draft, clearing the selection if it pointed
// at it.
func (d *Directory) DropDraft() *conversation.Draft {
	dr := d.Draft()
	if dr == nil {
		return nil
	}
	d.entries = slices.Delete(d.entries, 0, 1)
	if d.selected == DraftKey(dr.Key) {
		d.selected = ""
	}
	return dr
}

// Promote swaps the draft with the given key for p in the same slot. Any
// other entry already holding p's id is removed and returned. Selection
// follows the draft.
func (d *Directory) Promote(draftKey string, p *conversation.Persisted) ([]*conversation.Persisted, bool) {
	_, slot := d.Find(DraftKey(draftKey))
	if slot < 0 {
		return nil, false
	}

	var stale []*conversation.Persisted
	entries := make([]conversation.Entry, 0, len(d.entries))
	for i, e := range d.entries {
		if i == slot {
			entries = append(entries, p)
			continue
		}
		if other, ok := e.(*conversation.Persisted); ok && other.ID == p.ID {
			stale = append(stale, other)
			continue
		}
		entries = append(entries, e)
	}
	d.entries = entries

	if d.selected == DraftKey(draftKey) {
		d.selected = ConversationKey(p.ID)
	}
	return stale, true
}

// Upsert replaces the entry with p's id in place, or inserts p at the top
// behind any draft. It returns the replaced entry.
func (d *Directory) Upsert(p *conversation.Persisted) *conversation.Persisted {
	for i, e := range d.entries {
		if prev, ok := e.(*conversation.Persisted); ok && prev.ID == p.ID {
			d.entries[i] = p
			return prev
		}
	}
	d.entries = slices.Insert(d.entries, d.top(), conversation.Entry(p))
	return nil
}

// Touch records msg as the latest activity of conversation id. Older
// messages do not overwrite a newer last message.
func (d *Directory) Touch(id int64, msg message.Message) *conversation.Persisted {
	p := d.Persisted(id)
	if p == nil {
		return nil
	}
	if p.LastMessage == nil || msg.ID >= p.LastMessage.ID {
		m := msg
		p.LastMessage = &m
	}
	at := msg.SentAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if at.After(p.UpdatedAt) {
		p.UpdatedAt = at
	}
	return p
}

// MoveToTop moves conversation id to the first position behind any draft.
func (d *Directory) MoveToTop(id int64) {
	for i, e := range d.entries {
		if p, ok := e.(*conversation.Persisted); ok && p.ID == id {
			d.entries = slices.Delete(d.entries, i, i+1)
			d.entries = slices.Insert(d.entries, d.top(), e)
			return
		}
	}
}

func (d *Directory) top() int {
	if d.Draft() != nil {
		return 1
	}
	return 0
}

// Match finds the persisted conversation with counterpartID about ctx.
func (d *Directory) Match(counterpartID int64, ctx conversation.Context) *conversation.Persisted {
	for _, e := range d.entries {
		p, ok := e.(*conversation.Persisted)
		if !ok {
			continue
		}
		if conversation.Matches(p, d.role, counterpartID, ctx) {
			return p
		}
	}
	return nil
}

// UnreadSum is the sum of per-conversation unread counts.
func (d *Directory) UnreadSum() int {
	total := 0
	for _, e := range d.entries {
		if p, ok := e.(*conversation.Persisted); ok {
			total += p.UnreadCount
		}
	}
	return total
}

// SetPresence updates every participant with userID and returns the entries
// that changed.
func (d *Directory) SetPresence(userID int64, online bool) []conversation.Entry {
	var changed []conversation.Entry
	for _, e := range d.entries {
		switch v := e.(type) {
		case *conversation.Persisted:
			if setOnline(&v.Host, userID, online) || setOnline(&v.Guest, userID, online) {
				changed = append(changed, v)
			}
		case *conversation.Draft:
			if setOnline(&v.Host, userID, online) || setOnline(&v.Guest, userID, online) {
				changed = append(changed, v)
			}
		}
	}
	return changed
}

func setOnline(p *conversation.Participant, userID int64, online bool) bool {
	if p.UserID != userID || p.IsOnline == online {
		return false
	}
	p.IsOnline = online
	return true
}

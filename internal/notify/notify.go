package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/matst80/botwarden/internal/obs"
)

// Notification slots. A slot holds at most one visible notification.
const (
	Service = 1
	Captcha = 2
	Offline = 3
)

// Renderer shows user-visible notifications. Implementations are opaque to the
// core, which only supplies text, identity and an optional link or icon.
type Renderer interface {
	ShowPersistent(id int, title, text string, icon []byte)
	ShowOneShot(id int, title, text, link string)
	Cancel(id int)
}

// Notification is the last state rendered into a slot.
type Notification struct {
	ID         int       `json:"id"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Link       string    `json:"link,omitempty"`
	Persistent bool      `json:"persistent"`
	HasIcon    bool      `json:"has_icon"`
	Updated    time.Time `json:"updated"`
}

// Board is an in-memory Renderer. The UI process reads it through the control API.
type Board struct {
	mu     sync.Mutex
	active map[int]Notification
	quiet  map[int]bool
}

func NewBoard() *Board {
	return &Board{active: make(map[int]Notification), quiet: map[int]bool{Service: true}}
}

var _ Renderer = (*Board)(nil)

func (b *Board) ShowPersistent(id int, title, text string, icon []byte) {
	b.put(Notification{ID: id, Title: title, Text: text, Persistent: true, HasIcon: len(icon) > 0})
}

func (b *Board) ShowOneShot(id int, title, text, link string) {
	b.put(Notification{ID: id, Title: title, Text: text, Link: link})
}

func (b *Board) put(n Notification) {
	n.Updated = time.Now().UTC()
	b.mu.Lock()
	prev, existed := b.active[n.ID]
	b.active[n.ID] = n
	quiet := b.quiet[n.ID]
	b.mu.Unlock()
	// the service slot is re-rendered every tick; only log it when the text changes
	if quiet && existed && prev.Title == n.Title && prev.Text == n.Text {
		return
	}
	obs.Info("notify.show", obs.Fields{"id": n.ID, "title": n.Title, "text": n.Text, "link": n.Link})
}

func (b *Board) Cancel(id int) {
	b.mu.Lock()
	_, ok := b.active[id]
	delete(b.active, id)
	b.mu.Unlock()
	if ok {
		obs.Info("notify.cancel", obs.Fields{"id": id})
	}
}

// Get returns the notification currently shown in slot id.
func (b *Board) Get(id int) (Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.active[id]
	return n, ok
}

// List returns the visible notifications ordered by slot.
func (b *Board) List() []Notification {
	b.mu.Lock()
	out := make([]Notification, 0, len(b.active))
	for _, n := range b.active {
		out = append(out, n)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

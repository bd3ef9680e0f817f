package peers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownPeer is returned by a Book that has no address for an ID.
var ErrUnknownPeer = errors.New("unknown peer")

// Book resolves peer IDs to network addresses. Addresses are base URLs, e.g.
// "http://10.0.0.4:2004" or "http://10.0.0.4:8000/worker/4".
type Book interface {
	Addr(id ID) (string, error)
}

// DefaultTemplate is the address template used when none is configured. With
// the default port base, peer 3 lives at http://127.0.0.1:2003.
const DefaultTemplate = "http://127.0.0.1:{port}"

// DefaultPortBase ...
const DefaultPortBase = 2000

// TemplateBook derives addresses from the ID itself. The template may contain
// the placeholders {id} (decimal), {hex} (8 hex digits) and {port}
// (PortBase + id).
type TemplateBook struct {
	Template string
	PortBase int
}

// NewTemplateBook ...
func NewTemplateBook(template string, portBase int) *TemplateBook {
	if template == "" {
		template = DefaultTemplate
	}
	return &TemplateBook{
		Template: template,
		PortBase: portBase,
	}
}

// Addr implements the Book interface.
func (b *TemplateBook) Addr(id ID) (string, error) {
	port := b.PortBase + int(id)
	if strings.Contains(b.Template, "{port}") && port > 65535 {
		return "", fmt.Errorf("peer %s: port %d out of range: %w", id, port, ErrUnknownPeer)
	}
	r := strings.NewReplacer(
		"{id}", id.String(),
		"{hex}", id.Hex(),
		"{port}", strconv.Itoa(port),
	)
	return r.Replace(b.Template), nil
}

// StaticBook is a fixed table of addresses.
type StaticBook struct {
	l     sync.RWMutex
	addrs map[ID]string
}

// NewStaticBook ...
func NewStaticBook(addrs map[ID]string) *StaticBook {
	b := &StaticBook{addrs: make(map[ID]string, len(addrs))}
	for id, addr := range addrs {
		b.addrs[id] = addr
	}
	return b
}

// Addr implements the Book interface.
func (b *StaticBook) Addr(id ID) (string, error) {
	b.l.RLock()
	defer b.l.RUnlock()

	addr, ok := b.addrs[id]
	if !ok {
		return "", fmt.Errorf("peer %s: %w", id, ErrUnknownPeer)
	}
	return addr, nil
}

// Set records or replaces the address of id.
func (b *StaticBook) Set(id ID, addr string) {
	b.l.Lock()
	defer b.l.Unlock()
	b.addrs[id] = addr
}

// Delete forgets the address of id.
func (b *StaticBook) Delete(id ID) {
	b.l.Lock()
	defer b.l.Unlock()
	delete(b.addrs, id)
}

// Entries returns a copy of the table.
func (b *StaticBook) Entries() map[ID]string {
	b.l.RLock()
	defer b.l.RUnlock()

	res := make(map[ID]string, len(b.addrs))
	for id, addr := range b.addrs {
		res[id] = addr
	}
	return res
}

// Len ...
func (b *StaticBook) Len() int {
	b.l.RLock()
	defer b.l.RUnlock()
	return len(b.addrs)
}

// ChainBook asks each Book in turn and returns the first address found.
type ChainBook []Book

// Addr implements the Book interface.
func (c ChainBook) Addr(id ID) (string, error) {
	for _, b := range c {
		if b == nil {
			continue
		}
		addr, err := b.Addr(id)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, ErrUnknownPeer) {
			return "", err
		}
	}
	return "", fmt.Errorf("peer %s: %w", id, ErrUnknownPeer)
}

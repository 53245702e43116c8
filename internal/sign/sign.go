// SPDX-License-Identifier: MIT

// Package sign mints and redeems signed playback handles. A handle is an
// opaque path token the proxy hands out instead of a ?url= query, so origin
// URLs never appear in client-visible playlists.
package sign

import (
	"container/list"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaedera/anigate/internal/classify"
)

var (
	// ErrMalformedHandle reports a handle that does not parse.
	ErrMalformedHandle = errors.New("sign: malformed handle")
	// ErrBadSignature reports a handle whose MAC does not verify.
	ErrBadSignature = errors.New("sign: bad signature")
	// ErrExpiredHandle reports a handle past its expiry.
	ErrExpiredHandle = errors.New("sign: handle expired")
	// ErrUnknownHandle reports a verified id with no table entry, typically
	// after eviction or a restart.
	ErrUnknownHandle = errors.New("sign: unknown handle")
)

// maxHandleLen bounds parse work on hostile input.
const maxHandleLen = 256

// Entry is the origin reference a handle stands for.
type Entry struct {
	URL  string
	Ref  string
	Kind classify.Kind
}

// Broker keeps the handle table: a signature-checked, TTL-bounded LRU keyed
// by handle id. Handles are formatted id|expiryUnix|hex(mac).
type Broker struct {
	secret []byte
	ttl    time.Duration
	max    int
	now    func() time.Time

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

type tableItem struct {
	id     string
	entry  Entry
	expiry time.Time
}

// Option adjusts Broker construction.
type Option func(*Broker)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New builds a Broker. maxEntries bounds the table; the oldest untouched
// handle is dropped first once full.
func New(secret []byte, ttl time.Duration, maxEntries int, opts ...Option) *Broker {
	b := &Broker{
		secret: secret,
		ttl:    ttl,
		max:    maxEntries,
		now:    time.Now,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Mint registers e and returns its handle.
func (b *Broker) Mint(e Entry) string {
	id := uuid.NewString()
	expiry := b.now().Add(b.ttl)
	exp := strconv.FormatInt(expiry.Unix(), 10)
	sig := b.mac(id, exp, e.Kind)

	b.mu.Lock()
	b.evictExpiredLocked()
	for b.max > 0 && b.order.Len() >= b.max {
		b.removeLocked(b.order.Back())
	}
	el := b.order.PushFront(&tableItem{id: id, entry: e, expiry: expiry})
	b.items[id] = el
	b.mu.Unlock()

	return id + "|" + exp + "|" + sig
}

// Redeem verifies handle and returns its entry. Redeeming touches the entry
// so frequently replayed handles stay resident.
func (b *Broker) Redeem(handle string) (Entry, error) {
	if len(handle) > maxHandleLen {
		return Entry{}, ErrMalformedHandle
	}
	parts := strings.Split(handle, "|")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Entry{}, ErrMalformedHandle
	}
	id, exp, sig := parts[0], parts[1], parts[2]
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad expiry", ErrMalformedHandle)
	}

	b.mu.Lock()
	el, ok := b.items[id]
	if !ok {
		b.mu.Unlock()
		return Entry{}, ErrUnknownHandle
	}
	item := el.Value.(*tableItem)
	entry := item.entry
	b.order.MoveToFront(el)
	b.mu.Unlock()

	if !hmac.Equal([]byte(sig), []byte(b.mac(id, exp, entry.Kind))) {
		return Entry{}, ErrBadSignature
	}
	if b.now().Unix() > expUnix || b.now().After(item.expiry) {
		return Entry{}, ErrExpiredHandle
	}
	return entry, nil
}

// Len reports the table size, for metrics.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}

func (b *Broker) mac(id, exp string, kind classify.Kind) string {
	h := hmac.New(sha256.New, b.secret)
	h.Write([]byte(id))
	h.Write([]byte{'|'})
	h.Write([]byte(exp))
	h.Write([]byte{'|'})
	h.Write([]byte(kind.String()))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *Broker) evictExpiredLocked() {
	now := b.now()
	for el := b.order.Back(); el != nil; {
		item := el.Value.(*tableItem)
		if !now.After(item.expiry) {
			break
		}
		prev := el.Prev()
		b.removeLocked(el)
		el = prev
	}
}

func (b *Broker) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	item := b.order.Remove(el).(*tableItem)
	delete(b.items, item.id)
}

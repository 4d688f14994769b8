package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kjannette/stockwatch-backend/internal/models"
)

var ErrNoProvider = errors.New("no identity provider configured")

// Verifier exchanges a provider credential for an identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*models.Identity, error)
}

// ProfileStore persists user profiles on sign-in.
type ProfileStore interface {
	UpsertUser(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error)
}

// Tracker holds the signed-in identity of one dashboard and notifies
// subscribers when it changes.
type Tracker struct {
	verifier Verifier
	profiles ProfileStore

	notifyMu sync.Mutex // serializes deliveries so subscribers see changes in order

	mu      sync.Mutex
	current *models.Identity
	subs    map[uint64]func(*models.Identity)
	nextID  uint64
}

func NewTracker(verifier Verifier, profiles ProfileStore) *Tracker {
	return &Tracker{
		verifier: verifier,
		profiles: profiles,
		subs:     make(map[uint64]func(*models.Identity)),
	}
}

// Subscribe registers fn and immediately delivers the current identity
// (nil when signed out).
func (t *Tracker) Subscribe(fn func(*models.Identity)) (unsubscribe func()) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs[id] = fn
	cur := clone(t.current)
	t.mu.Unlock()

	fn(cur)

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// SignIn verifies credential with the identity provider. On failure the
// session is treated as signed out and the error returned.
func (t *Tracker) SignIn(ctx context.Context, credential string) (*models.Identity, error) {
	if t.verifier == nil {
		t.set(nil)
		return nil, ErrNoProvider
	}

	id, err := t.verifier.Verify(ctx, credential)
	if err != nil {
		fmt.Printf("[SESSION] Sign-in failed: %v\n", err)
		t.set(nil)
		return nil, fmt.Errorf("verify credential: %w", err)
	}

	if t.profiles != nil {
		if _, err := t.profiles.UpsertUser(ctx, id.Profile()); err != nil {
			fmt.Printf("[STORE] profile upsert for %s failed: %v\n", id.UID, err)
		}
	}

	fmt.Printf("[SESSION] Signed in %s\n", id.UID)
	t.set(id)
	return clone(id), nil
}

func (t *Tracker) SignOut() {
	if t.Current() != nil {
		fmt.Println("[SESSION] Signed out")
	}
	t.set(nil)
}

func (t *Tracker) Current() *models.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.current)
}

func (t *Tracker) set(id *models.Identity) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if same(t.current, id) {
		t.mu.Unlock()
		return
	}
	t.current = clone(id)
	fns := make([]func(*models.Identity), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(clone(id))
	}
}

func same(a, b *models.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clone(id *models.Identity) *models.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

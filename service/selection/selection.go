// Package selection holds the session's current token and identity NFT choice.
package selection

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Selection is the user's active choice per asset class.
// TokenAccount may be nil for first-time depositors who have no account yet.
type Selection struct {
	TokenAccount *solana.PublicKey `json:"token_account,omitempty"`
	TokenMint    *solana.PublicKey `json:"token_mint,omitempty"`
	IdentityNFT  *solana.PublicKey `json:"identity_nft,omitempty"`
}

// Complete reports whether a token mint and an identity NFT are both chosen.
func (s Selection) Complete() bool {
	return s.TokenMint != nil && s.IdentityNFT != nil
}

// Store is the single writer of the selection. Observers are called
// synchronously, in registration order, after every change.
type Store struct {
	mu        sync.RWMutex
	current   Selection
	observers map[int]func(Selection)
	nextID    int
}

// NewStore creates an empty selection store.
func NewStore() *Store {
	return &Store{observers: make(map[int]func(Selection))}
}

// SetTokenSelection selects a fungible token. account may be nil.
func (s *Store) SetTokenSelection(account *solana.PublicKey, mint solana.PublicKey) {
	s.update(func(sel *Selection) {
		sel.TokenAccount = clone(account)
		sel.TokenMint = clone(&mint)
	})
}

// SetIdentitySelection selects an identity NFT.
func (s *Store) SetIdentitySelection(nft solana.PublicKey) {
	s.update(func(sel *Selection) {
		sel.IdentityNFT = clone(&nft)
	})
}

// ClearAll resets every selection.
func (s *Store) ClearAll() {
	s.update(func(sel *Selection) {
		*sel = Selection{}
	})
}

// HasCompleteSelection is true iff both a token mint and an identity NFT are set.
func (s *Store) HasCompleteSelection() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Complete()
}

// Current returns a copy of the selection.
func (s *Store) Current() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySelection(s.current)
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(fn func(Selection)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) update(mutate func(*Selection)) {
	s.mu.Lock()
	mutate(&s.current)
	snapshot := copySelection(s.current)
	observers := s.sortedObservers()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

// sortedObservers returns observers in registration order. Caller holds mu.
func (s *Store) sortedObservers() []func(Selection) {
	out := make([]func(Selection), 0, len(s.observers))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.observers[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func copySelection(sel Selection) Selection {
	return Selection{
		TokenAccount: clone(sel.TokenAccount),
		TokenMint:    clone(sel.TokenMint),
		IdentityNFT:  clone(sel.IdentityNFT),
	}
}

func clone(pk *solana.PublicKey) *solana.PublicKey {
	if pk == nil {
		return nil
	}
	v := *pk
	return &v
}

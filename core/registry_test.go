package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/cortex/schema"
)

type fakeSession struct {
	id     schema.SessionID
	kind   schema.SessionKind
	block  chan struct{}
	closes atomic.Int32
	killed atomic.Bool
}

func newFakeSession(kind schema.SessionKind) *fakeSession {
	return &fakeSession{id: NewSessionID(kind), kind: kind}
}

func (f *fakeSession) ID() schema.SessionID     { return f.id }
func (f *fakeSession) Kind() schema.SessionKind { return f.kind }
func (f *fakeSession) Kill()                    { f.killed.Store(true) }

func (f *fakeSession) Close(context.Context) error {
	f.closes.Add(1)
	if f.block != nil {
		<-f.block
	}
	return nil
}

func TestRegistryInsertRemoveExactlyOnce(t *testing.T) {
	reg := NewRegistry(nil)
	s := newFakeSession(schema.KindPty)
	id, err := reg.Insert(s)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != s.ID() {
		t.Fatalf("expected id %q, got %q", s.ID(), id)
	}
	if _, err := reg.Insert(s); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	var wg sync.WaitGroup
	var removed atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := reg.Remove(id); ok {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()
	if removed.Load() != 1 {
		t.Fatalf("expected exactly one successful remove, got %d", removed.Load())
	}
	if _, ok := reg.Get(id); ok {
		t.Fatalf("expected removed session to be unobservable")
	}
}

func TestRegistryLookupKind(t *testing.T) {
	reg := NewRegistry(nil)
	s := newFakeSession(schema.KindSSH)
	if _, err := reg.Insert(s); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := Lookup[*fakeSession](reg, s.ID(), schema.KindSSH)
	if err != nil || got != s {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := Lookup[*fakeSession](reg, s.ID(), schema.KindPty); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found for wrong kind, got %v", err)
	}
	if _, err := Lookup[*fakeSession](reg, "missing", schema.KindSSH); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegistryListOrderAndKind(t *testing.T) {
	reg := NewRegistry(nil)
	a := newFakeSession(schema.KindPty)
	b := newFakeSession(schema.KindREPL)
	c := newFakeSession(schema.KindPty)
	for _, s := range []*fakeSession{a, b, c} {
		if _, err := reg.Insert(s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	ptys := reg.List(schema.KindPty)
	if len(ptys) != 2 || ptys[0].ID() != a.ID() || ptys[1].ID() != c.ID() {
		t.Fatalf("unexpected pty listing: %v", ptys)
	}
	if got := len(reg.List("")); got != 3 {
		t.Fatalf("expected 3 sessions, got %d", got)
	}
}

func TestRegistryDrainKillsAfterBudget(t *testing.T) {
	reg := NewRegistry(nil)
	fast := newFakeSession(schema.KindLSP)
	slow := newFakeSession(schema.KindDAP)
	slow.block = make(chan struct{})
	defer close(slow.block)
	for _, s := range []*fakeSession{fast, slow} {
		if _, err := reg.Insert(s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	start := time.Now()
	reg.Drain(context.Background(), 50*time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("drain took too long: %s", elapsed)
	}
	if fast.killed.Load() {
		t.Fatalf("expected fast session not to be killed")
	}
	if !slow.killed.Load() {
		t.Fatalf("expected slow session to be killed")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry after drain")
	}
	if _, err := reg.Insert(newFakeSession(schema.KindPty)); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}

func TestRegistryCloseKind(t *testing.T) {
	reg := NewRegistry(nil)
	a := newFakeSession(schema.KindSSH)
	b := newFakeSession(schema.KindPty)
	for _, s := range []*fakeSession{a, b} {
		if _, err := reg.Insert(s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if n := reg.CloseKind(context.Background(), schema.KindSSH); n != 1 {
		t.Fatalf("expected 1 closed, got %d", n)
	}
	if a.closes.Load() != 1 {
		t.Fatalf("expected ssh session closed once")
	}
	if _, ok := reg.Get(b.ID()); !ok {
		t.Fatalf("expected pty session to remain")
	}
}

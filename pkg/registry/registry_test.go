package registry

import (
	"strings"
	"testing"
)

func TestJoinGeneratesCodeWhenAbsent(t *testing.T) {
	r := New(6)
	id, superseded := r.Join("conn-1", "", "", "")
	if superseded != "" {
		t.Fatalf("fresh join must not supersede anything")
	}
	if len(id.UserCode) != 6 {
		t.Fatalf("expected 6-char code; got %q", id.UserCode)
	}
	for _, c := range id.UserCode {
		if !strings.ContainsRune(codeAlphabet, c) {
			t.Fatalf("code %q contains %q outside the alphabet", id.UserCode, c)
		}
	}
	if id.Name != "User_"+id.UserCode {
		t.Fatalf("expected generated display name; got %q", id.Name)
	}
	if id.DeviceType != "mobile" {
		t.Fatalf("expected default device type mobile; got %q", id.DeviceType)
	}
}

func TestJoinNormalizesProvidedCode(t *testing.T) {
	r := New(6)
	id, _ := r.Join("conn-1", " ab12cd ", "Alice", "desktop")
	if id.UserCode != "AB12CD" {
		t.Fatalf("expected uppercase normalization; got %q", id.UserCode)
	}
	if id.Name != "Alice" || id.DeviceType != "desktop" {
		t.Fatalf("provided fields overwritten: %+v", id)
	}
}

func TestReconnectSupersedesOldBinding(t *testing.T) {
	r := New(6)
	r.Join("conn-old", "AB12CD", "Alice", "")
	id, superseded := r.Join("conn-new", "ab12cd", "Alice", "")
	if superseded != "conn-old" {
		t.Fatalf("expected conn-old to be superseded; got %q", superseded)
	}
	if id.ConnectionID != "conn-new" {
		t.Fatalf("binding not rebound: %+v", id)
	}

	if _, ok := r.ResolveByConnection("conn-old"); ok {
		t.Fatalf("old connection must lose its binding")
	}
	got, ok := r.ResolveByCode("AB12CD")
	if !ok || got.ConnectionID != "conn-new" {
		t.Fatalf("code index not rebound: %+v ok=%v", got, ok)
	}

	// at most one live binding per code
	n := 0
	for _, s := range r.Snapshot() {
		if s.UserCode == "AB12CD" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one live identity for the code; got %d", n)
	}
}

func TestLeaveRemovesOnlyTheLiveBinding(t *testing.T) {
	r := New(6)
	r.Join("conn-1", "AB12CD", "Alice", "")
	id, ok := r.Leave("conn-1")
	if !ok || id.UserCode != "AB12CD" {
		t.Fatalf("Leave should report the removed identity; got %+v ok=%v", id, ok)
	}
	if _, ok := r.ResolveByCode("AB12CD"); ok {
		t.Fatalf("live binding must be gone after Leave")
	}
	if _, ok := r.Leave("conn-1"); ok {
		t.Fatalf("second Leave must be a no-op")
	}

	// the code stays known: a fresh generated code can never collide with it
	r.AddKnown("AB12CD")
	for i := 0; i < 100; i++ {
		id, _ := r.Join("conn-x", "", "", "")
		if id.UserCode == "AB12CD" {
			t.Fatalf("known code re-issued")
		}
		r.Leave("conn-x")
	}
}

func TestLeaveAfterSupersedeKeepsNewBinding(t *testing.T) {
	r := New(6)
	r.Join("conn-old", "AB12CD", "", "")
	r.Join("conn-new", "AB12CD", "", "")
	// stale disconnect of the superseded connection arrives afterwards
	if _, ok := r.Leave("conn-old"); ok {
		t.Fatalf("superseded connection was already unbound")
	}
	if _, ok := r.ResolveByCode("AB12CD"); !ok {
		t.Fatalf("new binding must survive the old connection's disconnect")
	}
}

func TestSnapshotIsSortedByCode(t *testing.T) {
	r := New(6)
	r.Join("c1", "ZZZZZZ", "", "")
	r.Join("c2", "AAAAAA", "", "")
	r.Join("c3", "MMMMMM", "", "")
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 live identities; got %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].UserCode > snap[i].UserCode {
			t.Fatalf("snapshot not sorted: %v", snap)
		}
	}
}

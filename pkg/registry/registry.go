// Package registry maps live connections to stable user identities. Codes
// are capability tokens: presenting one is sufficient proof of identity, so
// join never rejects an unknown code.
package registry

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"pairwire/pkg/logger"
	"pairwire/pkg/models"
	"pairwire/pkg/telemetry"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Registry holds the live connection/identity bindings. byCode is the
// explicit userCode-to-connection index the router consults on every send.
type Registry struct {
	mu         sync.Mutex
	byConn     map[string]*models.Identity
	byCode     map[string]string // userCode -> connectionID
	known      map[string]struct{}
	codeLength int
}

// New returns an empty registry issuing codes of the given length.
func New(codeLength int) *Registry {
	if codeLength < 6 {
		codeLength = 6
	}
	return &Registry{
		byConn:     make(map[string]*models.Identity),
		byCode:     make(map[string]string),
		known:      make(map[string]struct{}),
		codeLength: codeLength,
	}
}

// AddKnown seeds codes that must never be re-issued, typically the
// participants of conversations reloaded at startup.
func (r *Registry) AddKnown(codes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range codes {
		r.known[strings.ToUpper(c)] = struct{}{}
	}
}

// Join binds a connection to an identity. An empty providedCode gets a
// freshly generated unique code; a provided code is normalized to uppercase
// and supersedes any prior live binding for that code. The superseded
// connection id (if any) is returned so the transport can drop it.
func (r *Registry) Join(connectionID, providedCode, name, deviceType string) (models.Identity, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := strings.ToUpper(strings.TrimSpace(providedCode))
	if code == "" {
		code = r.generateCodeLocked()
	}
	if name == "" {
		name = "User_" + code
	}
	if deviceType == "" {
		deviceType = "mobile"
	}

	superseded := ""
	if prev, ok := r.byCode[code]; ok && prev != connectionID {
		superseded = prev
		delete(r.byConn, prev)
		logger.Info("binding_superseded", "code", code, "old_conn", prev, "new_conn", connectionID)
	}

	id := &models.Identity{
		ConnectionID: connectionID,
		UserCode:     code,
		Name:         name,
		DeviceType:   deviceType,
		LastSeen:     time.Now().UTC(),
	}
	r.byConn[connectionID] = id
	r.byCode[code] = connectionID
	r.known[code] = struct{}{}
	telemetry.Identities.Set(float64(len(r.byConn)))

	logger.Info("identity_joined", "code", code, "conn", connectionID, "device", deviceType)
	return *id, superseded
}

// Leave removes the live binding for a connection. Returns the identity
// that was bound, if any. The code itself stays known; only the live
// binding is transient.
func (r *Registry) Leave(connectionID string) (models.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connectionID]
	if !ok {
		return models.Identity{}, false
	}
	delete(r.byConn, connectionID)
	// only clear the index entry if it still points at this connection; a
	// reconnect may have superseded it already
	if r.byCode[id.UserCode] == connectionID {
		delete(r.byCode, id.UserCode)
	}
	telemetry.Identities.Set(float64(len(r.byConn)))
	logger.Info("identity_left", "code", id.UserCode, "conn", connectionID)
	return *id, true
}

// ResolveByConnection returns the identity bound to a connection.
func (r *Registry) ResolveByConnection(connectionID string) (models.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connectionID]
	if !ok {
		return models.Identity{}, false
	}
	return *id, true
}

// ResolveByCode returns the live identity for a user code, if one is bound.
func (r *Registry) ResolveByCode(userCode string) (models.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byCode[strings.ToUpper(userCode)]
	if !ok {
		return models.Identity{}, false
	}
	id, ok := r.byConn[conn]
	if !ok {
		return models.Identity{}, false
	}
	return *id, true
}

// Snapshot returns the live identities ordered by user code, for presence
// broadcasts.
func (r *Registry) Snapshot() []models.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Identity, 0, len(r.byConn))
	for _, id := range r.byConn {
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserCode < out[j].UserCode })
	return out
}

// generateCodeLocked draws uniform codes until one misses both the live
// index and the known set. Collisions are vanishingly rare at this keyspace
// (36^6) but checked anyway.
func (r *Registry) generateCodeLocked() string {
	for {
		b := make([]byte, r.codeLength)
		for i := range b {
			b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(b)
		if _, live := r.byCode[code]; live {
			continue
		}
		if _, seen := r.known[code]; seen {
			continue
		}
		return code
	}
}

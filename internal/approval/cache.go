package approval

// sessionCache remembers which approval fingerprints a session has already
// had approved by a human. It grows only on explicit approval, never on
// denial, and has no expiry: daemon restart is the only reset. Not safe for
// concurrent use; the registry serializes access.
type sessionCache struct {
	approved map[string]map[string]struct{}
}

func newSessionCache() *sessionCache {
	return &sessionCache{approved: make(map[string]map[string]struct{})}
}

// hit reports whether fp was previously approved in session.
func (c *sessionCache) hit(session, fp string) bool {
	fps, ok := c.approved[session]
	if !ok {
		return false
	}
	_, ok = fps[fp]
	return ok
}

// approve records fp as approved for session.
func (c *sessionCache) approve(session, fp string) {
	fps, ok := c.approved[session]
	if !ok {
		fps = make(map[string]struct{})
		c.approved[session] = fps
	}
	fps[fp] = struct{}{}
}

// size returns the total number of cached fingerprints across all sessions.
func (c *sessionCache) size() int {
	n := 0
	for _, fps := range c.approved {
		n += len(fps)
	}
	return n
}

// sessions returns the number of sessions holding at least one approval.
func (c *sessionCache) sessions() int {
	return len(c.approved)
}

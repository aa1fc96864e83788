package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/approvd/approvd/pkg/protocol"
)

// Fingerprint derives the deterministic dedup/cache key for a request:
// kind, session, and canonicalized content. encoding/json marshals maps with
// sorted keys, so two requests with the same logical tool input always
// fingerprint identically regardless of original key order.
func Fingerprint(req protocol.Request) string {
	h := sha256.New()
	h.Write([]byte(req.Kind))
	h.Write([]byte{0})
	h.Write([]byte(req.SessionID))
	h.Write([]byte{0})

	switch req.Kind {
	case protocol.KindApproval:
		h.Write([]byte(req.ToolName))
		h.Write([]byte{0})
		input, _ := json.Marshal(req.ToolInput)
		h.Write(input)
	case protocol.KindQuestion:
		questions, _ := json.Marshal(req.Questions)
		h.Write(questions)
	}

	return hex.EncodeToString(h.Sum(nil))
}

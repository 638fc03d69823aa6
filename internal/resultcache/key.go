package resultcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"stratumai/internal/core"
)

// Key derives the cache key for req: a SHA-256 digest over exactly the
// fields that determine the response. Stream and Extra are excluded.
// Every field is length-prefixed or presence-tagged so adjacent fields
// cannot run together.
func Key(req *core.ChatRequest) string {
	w := keyWriter{h: sha256.New()}

	w.writeString(req.Provider)
	w.writeString(req.Model)
	w.writeUint(uint64(len(req.Messages)))
	for _, m := range req.Messages {
		w.writeString(m.Role)
		w.writeString(m.Content)
	}
	w.writeFloat(req.Temperature)
	if req.MaxTokens != nil {
		w.writePresent(true)
		w.writeUint(uint64(int64(*req.MaxTokens)))
	} else {
		w.writePresent(false)
	}
	w.writeFloat(req.TopP)
	w.writeUint(uint64(len(req.Stop)))
	for _, s := range req.Stop {
		w.writeString(s)
	}
	if req.Seed != nil {
		w.writePresent(true)
		w.writeUint(uint64(*req.Seed))
	} else {
		w.writePresent(false)
	}

	return hex.EncodeToString(w.h.Sum(nil))
}

type keyWriter struct {
	h   hash.Hash
	buf [8]byte
}

func (w *keyWriter) writeUint(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:], v)
	_, _ = w.h.Write(w.buf[:])
}

func (w *keyWriter) writeString(s string) {
	w.writeUint(uint64(len(s)))
	_, _ = w.h.Write([]byte(s))
}

func (w *keyWriter) writePresent(ok bool) {
	if ok {
		_, _ = w.h.Write([]byte{1})
	} else {
		_, _ = w.h.Write([]byte{0})
	}
}

func (w *keyWriter) writeFloat(f *float64) {
	if f == nil {
		w.writePresent(false)
		return
	}
	w.writePresent(true)
	w.writeUint(math.Float64bits(*f))
}

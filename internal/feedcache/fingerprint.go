package feedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"

	"content-podcaster/internal/models"
)

const optionsHashLength = 16

type revision struct {
	id string
	at int64
}

// Fingerprint digests an episode set together with the render options. The
// result does not depend on the order of episodes, and changes whenever an
// episode joins or leaves the set or its revision time moves.
func Fingerprint(episodes []models.Episode, options any) string {
	revs := make([]revision, len(episodes))
	for i, ep := range episodes {
		revs[i] = revision{id: ep.ID, at: ep.RevisionTime().UTC().UnixNano()}
	}
	sort.Slice(revs, func(i, j int) bool {
		if revs[i].id != revs[j].id {
			return revs[i].id < revs[j].id
		}
		return revs[i].at < revs[j].at
	})

	h := sha256.New()
	writeOptions(h, options)
	fmt.Fprintf(h, "episodes:%d\n", len(revs))
	for _, r := range revs {
		fmt.Fprintf(h, "%s\x00%d\n", r.id, r.at)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// OptionsHash is a short stable digest of render options, used in cache keys.
func OptionsHash(options any) string {
	h := sha256.New()
	writeOptions(h, options)
	return hex.EncodeToString(h.Sum(nil))[:optionsHashLength]
}

func writeOptions(h hash.Hash, options any) {
	// encoding/json emits struct fields in declaration order and sorts map
	// keys, which makes it canonical for the option types used here.
	b, err := json.Marshal(options)
	if err != nil {
		b = []byte(fmt.Sprintf("%#v", options))
	}
	h.Write([]byte("options:"))
	h.Write(b)
	h.Write([]byte{'\n'})
}

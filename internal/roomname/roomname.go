// Package roomname picks memorable room names such as "teal-nimble-otter-prism".
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var lists = [][]string{colors, moods, creatures, things}

// Generate returns a four-word name, one word from each list. Names for
// which taken reports true are skipped.
func Generate(taken func(string) bool) string {
	for {
		words := make([]string, len(lists))
		for i, list := range lists {
			words[i] = list[randomIndex(len(list))]
		}
		name := strings.Join(words, "-")
		if taken == nil || !taken(name) {
			return name
		}
	}
}

// Current picks the initial room: the configured one when set, otherwise a
// fresh name.
func Current(configured string) string {
	if room := strings.TrimSpace(configured); room != "" {
		return room
	}
	return Generate(nil)
}

// randomIndex returns a cryptographically random index below n.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

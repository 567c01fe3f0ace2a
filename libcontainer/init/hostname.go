package init

import (
	"math/rand"
	"time"
)

const vowels = "aeiou"
const consonants = "bcdfghjklmnpqrstvwxyz"

// GenHostname produces a pronounceable consonant/vowel-alternating hostname
// of the given length, starting on a consonant.
func GenHostname(length int) string {
	return genHostname(length, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// genHostname takes an explicit source so tests can assert on a fixed seed.
func genHostname(length int, r *rand.Rand) string {
	word := make([]byte, length)
	for i := 0; i < length; i++ {
		if i%2 == 0 {
			word[i] = consonants[r.Intn(len(consonants))]
		} else {
			word[i] = vowels[r.Intn(len(vowels))]
		}
	}
	return string(word)
}

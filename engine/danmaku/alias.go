package danmaku

import "strconv"

// Pseudonymizer hands out user_1, user_2, ... in first-seen order of sender
// hashes. One instance lives for exactly one collection run.
type Pseudonymizer struct {
	aliases map[string]string
}

// NewPseudonymizer returns an empty alias table.
func NewPseudonymizer() *Pseudonymizer {
	return &Pseudonymizer{aliases: make(map[string]string)}
}

// Alias returns the alias for hash, allocating the next one on first sight.
func (p *Pseudonymizer) Alias(hash string) string {
	if a, ok := p.aliases[hash]; ok {
		return a
	}
	a := "user_" + strconv.Itoa(len(p.aliases)+1)
	p.aliases[hash] = a
	return a
}

// Len is the number of distinct senders seen.
func (p *Pseudonymizer) Len() int { return len(p.aliases) }

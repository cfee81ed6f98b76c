package market

import "github.com/alanyoungcy/opinionsmarket/internal/crypto"

// canonicalID maps a hex wallet address to its checksummed form so that a
// wallet owns one participant record, one balance and one set of grants
// however the client cased it. Other identities pass through unchanged.
func canonicalID(id string) string {
	if addr, err := crypto.NormalizeAddress(id); err == nil {
		return addr
	}
	return id
}

func canonicalIDs(ids ...*string) {
	for _, id := range ids {
		*id = canonicalID(*id)
	}
}

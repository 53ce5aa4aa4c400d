// Package ids derives the deterministic identifiers the indexing pipeline
// relies on: space ids, proposal ids, and the UUID form of an edit's
// protobuf-native byte id. Every function here is a pure function of its
// inputs so that the Content Resolver and the Indexer, two independent
// processes, always agree on an id without coordinating.
package ids

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// ChecksumAddress renders a 20-byte on-chain address as mixed-case hex
// following EIP-55: each hex digit is upper-cased when the corresponding
// nibble of keccak256(lowercase hex) is >= 8. Input may or may not carry a
// "0x" prefix and may be of any case; the result always carries "0x" and is
// deterministic regardless of the input's case.
func ChecksumAddress(address string) string {
	lower := strings.ToLower(strings.TrimPrefix(address, "0x"))

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lower))
	hash := hasher.Sum(nil)
	hashHex := hex.EncodeToString(hash)

	var b strings.Builder
	b.WriteString("0x")
	for i, r := range lower {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		// hashHex[i] is a hex digit of the hash; >= 8 means upper-case this nibble.
		if hashHex[i] >= '8' {
			b.WriteRune(r - 32) // to upper
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeriveSpaceID computes space_id = uuid_from_md5("<network>:<checksum(dao_address)>").
// Deterministic and case-insensitive on dao_address.
func DeriveSpaceID(network, daoAddress string) uuid.UUID {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s", network, ChecksumAddress(daoAddress))))
	return uuidFromMD5(sum)
}

// DeriveProposalID computes
// id = uuid_from_md5("<checksum(dao)>:<proposal_id>:<checksum(plugin)>")
// for proposal types other than PublishEdit (which instead prefer the
// edit's own id, see EditIDFromBytes).
func DeriveProposalID(daoAddress, proposalID, pluginAddress string) uuid.UUID {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s",
		ChecksumAddress(daoAddress), proposalID, ChecksumAddress(pluginAddress))))
	return uuidFromMD5(sum)
}

// EditIDFromBytes converts the 16-byte id field carried by a decoded Edit
// into a UUID. Any length other than 16 is rejected (ok=false) rather than
// padded or truncated, matching the original transform_id_bytes contract.
func EditIDFromBytes(b []byte) (id uuid.UUID, ok bool) {
	if len(b) != 16 {
		return uuid.Nil, false
	}
	var arr [16]byte
	copy(arr[:], b)
	return uuid.UUID(arr), true
}

// ValueID derives the synthetic id of a (property_id, entity_id, space_id)
// triple. Pure function of the triple, never depending on the value's
// content, satisfying the invariant that SET/UNSET of the same triple
// always address the same row.
func ValueID(propertyID, entityID, spaceID uuid.UUID) uuid.UUID {
	sum := md5.Sum([]byte(entityID.String() + ":" + propertyID.String() + ":" + spaceID.String()))
	return uuidFromMD5(sum)
}

// uuidFromMD5 stamps the version-4 nibble and RFC-4122 variant bits onto the
// digest before treating it as a UUID, matching the random-bytes builder the
// other services derive with. EditIDFromBytes deliberately does NOT go
// through here: an edit's byte id round-trips untouched.
func uuidFromMD5(sum [16]byte) uuid.UUID {
	sum[6] = (sum[6] & 0x0f) | 0x40
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.UUID(sum)
}

// ParseUUID is a thin wrapper so callers in this module tree don't need to
// import google/uuid directly just to attempt a parse.
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

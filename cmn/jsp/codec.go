// Package jsp (JSON/msgpack persistence) provides the length-prefixed,
// checksummed binary envelope used to write and read the group metakey
// (spec §6). It generalizes the teacher's cmn/jsp file-based Save/Load pair
// to an in-memory byte blob, since the metakey lives in the storage under a
// well-known key rather than on local disk.
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package jsp

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/v-nikulichev/mastermind/cmn"
)

const (
	signature = "mmk1" // envelope signature (compare w/ teacher's "aistore")
	// header layout: [ 4B signature | 4B payload length | 32B blake2b-256 checksum ]
	headerLen = 4 + 4 + 32

	Metaver = cmn.MetaVersion
)

// Encode wraps an already-msgpack-encoded payload in the versioned,
// checksummed envelope that is written to the storage under
// SYMMETRIC_GROUPS_KEY.
func Encode(payload []byte) []byte {
	sum := blake2b.Sum256(payload)
	out := make([]byte, 0, headerLen+len(payload))
	out = append(out, signature...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	out = append(out, sum[:]...)
	out = append(out, payload...)
	return out
}

// Decode validates and strips the envelope. If blob does not carry our
// signature it is treated as a legacy raw msgpack payload (spec §4.C: "a
// legacy form (bare tuple/list) is lifted ..."), and is returned verbatim
// with legacy=true so the caller can apply the lift.
func Decode(blob []byte) (payload []byte, legacy bool, err error) {
	if len(blob) < len(signature) || string(blob[:len(signature)]) != signature {
		return blob, true, nil
	}
	if len(blob) < headerLen {
		return nil, false, cmn.NewValidationError("metakey envelope truncated")
	}
	n := binary.BigEndian.Uint32(blob[4:8])
	payload = blob[headerLen:]
	if uint32(len(payload)) != n {
		return nil, false, cmn.NewValidationError("metakey envelope length mismatch: header=%d actual=%d", n, len(payload))
	}
	want := blob[8:headerLen]
	got := blake2b.Sum256(payload)
	for i := range want {
		if want[i] != got[i] {
			return nil, false, cmn.NewValidationError("metakey envelope checksum mismatch")
		}
	}
	return payload, false, nil
}

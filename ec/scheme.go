// Package ec defines the LRC-8-2-2 erasure-coding scheme constants used by
// groupset status derivation (spec §4.D). It carries no object-data codec:
// the encode/decode of object bytes into shards remains the data plane's
// job, out of scope here.
package ec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Scheme822v1 indices. 8 data shards split into two local groups of 4, each
// protected by one local parity shard; two global parity shards protect the
// whole stripe.
const (
	DataShards  = 8
	LocalShards = 2 // local parity shards, one per local group
	GlobalShards = 2
	TotalShards = DataShards + LocalShards + GlobalShards // 12

	SchemeName = "lrc-8-2-2-v1"
)

// LocalGroups partitions the 8 data indices into the two local groups.
var LocalGroups = [2][]int{
	{0, 1, 2, 3},
	{4, 5, 6, 7},
}

// LocalParityIndices[i] is the local parity shard covering LocalGroups[i].
var LocalParityIndices = [2]int{8, 9}

// GlobalParityIndices are the two global parity shards covering all 8 data
// indices.
var GlobalParityIndices = [2]int{10, 11}

// IndexShardIndices are the four index shards referenced by spec §4.D's
// index-unavailability check: {0,2,8}, {1,3,9}, {4,6,10}, {5,7,11}.
var IndexShardIndices = [4][3]int{
	{0, 2, 8},
	{1, 3, 9},
	{4, 6, 10},
	{5, 7, 11},
}

// BadDataPartsIndices is the precomputed table of sorted 4-index tuples
// that LRC-8-2-2 cannot reconstruct (spec §4.D item 2, patterns a-f),
// keyed by the sorted [4]int tuple itself for O(1) membership tests.
var BadDataPartsIndices = generateBadDataPartsIndices()

func init() {
	// Fails fast at process start if the scheme constants above ever drift
	// from a matrix Reed-Solomon can actually invert (8 data + 4 parity).
	// This is a correctness fence on the constants, not an object codec:
	// no object bytes are ever encoded through this encoder.
	if _, err := reedsolomon.New(DataShards, LocalShards+GlobalShards); err != nil {
		panic(fmt.Sprintf("ec: lrc-8-2-2-v1 scheme constants do not form a valid Reed-Solomon matrix: %v", err))
	}
}

func generateBadDataPartsIndices() map[[4]int]bool {
	table := make(map[[4]int]bool)
	for i, localData := range LocalGroups {
		localParity := LocalParityIndices[i]
		globals := GlobalParityIndices

		// (a) all 4 data parts of the local group.
		addPattern(table, localData[0], localData[1], localData[2], localData[3])

		// (b) 3 data parts + local parity.
		for _, combo := range combinations3(localData) {
			addPattern(table, combo[0], combo[1], combo[2], localParity)
		}

		// (c) 3 data parts + one global parity.
		for _, combo := range combinations3(localData) {
			for _, g := range globals {
				addPattern(table, combo[0], combo[1], combo[2], g)
			}
		}

		// (d) 2 data parts + both globals.
		for _, combo := range combinations2(localData) {
			addPattern(table, combo[0], combo[1], globals[0], globals[1])
		}

		// (e) 2 data parts + local parity + one global.
		for _, combo := range combinations2(localData) {
			for _, g := range globals {
				addPattern(table, combo[0], combo[1], localParity, g)
			}
		}

		// (f) 1 data part + local parity + both globals.
		for _, d := range localData {
			addPattern(table, d, localParity, globals[0], globals[1])
		}
	}
	return table
}

func addPattern(table map[[4]int]bool, a, b, c, d int) {
	table[sorted4(a, b, c, d)] = true
}

func sorted4(a, b, c, d int) [4]int {
	arr := [4]int{a, b, c, d}
	for i := 1; i < len(arr); i++ {
		for j := i; j > 0 && arr[j-1] > arr[j]; j-- {
			arr[j-1], arr[j] = arr[j], arr[j-1]
		}
	}
	return arr
}

func combinations3(items []int) [][3]int {
	var out [][3]int
	n := len(items)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				out = append(out, [3]int{items[i], items[j], items[k]})
			}
		}
	}
	return out
}

func combinations2(items []int) [][2]int {
	var out [][2]int
	n := len(items)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, [2]int{items[i], items[j]})
		}
	}
	return out
}

// IsDataPartiallyUnavailable reports whether the sorted set of
// not-COUPLED group indices U (spec §4.D item 2) makes data unreconstructible:
// len(U) > 4, or len(U) == 4 and U's tuple is in BadDataPartsIndices.
func IsDataPartiallyUnavailable(unavailable []int) bool {
	if len(unavailable) > 4 {
		return true
	}
	if len(unavailable) != 4 {
		return false
	}
	key := sorted4(unavailable[0], unavailable[1], unavailable[2], unavailable[3])
	return BadDataPartsIndices[key]
}

// UnavailableIndexShardIndices returns the index shards (of
// IndexShardIndices) fully contained in the sorted set of unavailable
// group indices U (spec §4.D item 3).
func UnavailableIndexShardIndices(unavailable []int) [][3]int {
	set := make(map[int]bool, len(unavailable))
	for _, u := range unavailable {
		set[u] = true
	}
	var out [][3]int
	for _, shard := range IndexShardIndices {
		if set[shard[0]] && set[shard[1]] && set[shard[2]] {
			out = append(out, shard)
		}
	}
	return out
}

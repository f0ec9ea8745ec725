// Package fingerprint computes a stable content hash over a stream/rule universe.
// Two universes with the same stream IDs and the same rule IDs per stream
// produce the same fingerprint regardless of input order.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"unicode"

	"streamrouter/internal/streams"
)

// Compute returns the lowercase hex SHA-1 fingerprint of the streams.
// Nil streams and nil rules are skipped. The input slices are not modified.
func Compute(all []*streams.Stream) string {
	sorted := make([]*streams.Stream, 0, len(all))
	for _, s := range all {
		if s != nil {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareIDs(sorted[i].ID, sorted[j].ID) < 0
	})

	digest := sha1.New()
	for _, s := range sorted {
		writeID(digest, streamTag, s.ID)

		rules := make([]*streams.StreamRule, 0, len(s.Rules))
		for _, r := range s.Rules {
			if r != nil {
				rules = append(rules, r)
			}
		}
		sort.SliceStable(rules, func(i, j int) bool {
			return compareIDs(rules[i].ID, rules[j].ID) < 0
		})
		for _, r := range rules {
			writeID(digest, ruleTag, r.ID)
		}
	}
	return hex.EncodeToString(digest.Sum(nil))
}

const (
	streamTag byte = 's'
	ruleTag   byte = 'r'
)

// writeID feeds a tagged, NUL-terminated identifier into the digest so that
// moving an ID between streams and rules, or splitting one ID in two, changes
// the fingerprint.
func writeID(w io.Writer, tag byte, id string) {
	w.Write([]byte{tag})
	w.Write([]byte(id))
	w.Write([]byte{0})
}

// compareIDs orders case-insensitively first and breaks ties case-sensitively,
// giving a total order even for IDs that differ only by case.
func compareIDs(a, b string) int {
	if c := compareFold(a, b); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// compareFold compares rune by rune after simple case folding.
// It does not depend on the process locale.
func compareFold(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		ca, cb := foldRune(ra[i]), foldRune(rb[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ra) < len(rb):
		return -1
	case len(ra) > len(rb):
		return 1
	default:
		return 0
	}
}

// foldRune maps a rune to its lower case after upper-casing, which matches
// the way case-insensitive string ordering treats special cases.
func foldRune(r rune) rune {
	return unicode.ToLower(unicode.ToUpper(r))
}

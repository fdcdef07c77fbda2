// Package bucketing assigns users to experiment groups deterministically.
//
// The hash is a 32-bit shift-and-subtract over the UTF-16 code units of
// userID+testID. It is not cryptographic and can skew for some id patterns;
// it is kept bit-exact so historical assignments stay reproducible.
package bucketing

import "unicode/utf16"

// Buckets is the number of buckets a user can fall into.
const Buckets = 100

// Hash returns the 32-bit hash of userID+testID.
func Hash(userID, testID string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(userID + testID)) {
		h = h<<5 - h + int32(c)
	}
	return h
}

// Bucket returns the user's bucket for testID, in [0, Buckets).
func Bucket(userID, testID string) int {
	h := int64(Hash(userID, testID))
	if h < 0 {
		h = -h
	}
	return int(h % Buckets)
}

// InTestGroup reports whether the user falls in the test group of an
// experiment exposing pct percent of users. A pct of 0 places nobody in test.
func InTestGroup(userID, testID string, pct float64) bool {
	return float64(Bucket(userID, testID)) < pct
}

// Package rdbsnap provides the one fixed RDB snapshot the core serves on
// FULLRESYNC. Parsing or generating a real RDB file is explicitly out of
// scope (spec §1) — this is the canonical empty-database blob Redis itself
// would produce, decoded once at init.
package rdbsnap

import "encoding/base64"

const emptyDatabaseBase64 = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog=="

var emptyDatabase []byte

func init() {
	decoded, err := base64.StdEncoding.DecodeString(emptyDatabaseBase64)
	if err != nil {
		panic("rdbsnap: embedded snapshot failed to decode: " + err.Error())
	}
	emptyDatabase = decoded
}

// EmptyDatabase returns the fixed snapshot payload used for every
// FULLRESYNC. Callers must not mutate the returned slice.
func EmptyDatabase() []byte {
	return emptyDatabase
}

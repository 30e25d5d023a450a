// Package globmatch matches KEYS patterns against keyspace keys. Redis's
// glob dialect (*, ?, [abc], [^abc]) is handled by gobwas/glob once a
// [^abc] class is rewritten to gobwas's [!abc] spelling, so this package is
// a thin, cached wrapper rather than a hand-rolled matcher.
package globmatch

import (
	"sync"

	"github.com/gobwas/glob"
)

type compiled struct {
	g  glob.Glob
	ok bool
}

var (
	mu    sync.Mutex
	cache = make(map[string]compiled)
)

// Match reports whether key matches the given glob pattern. A literal "*"
// always matches everything, short-circuiting the compile-and-cache path
// for the overwhelmingly common case.
func Match(pattern, key string) bool {
	if pattern == "*" {
		return true
	}

	c := lookup(pattern)
	if !c.ok {
		return false
	}
	return c.g.Match(key)
}

func lookup(pattern string) compiled {
	mu.Lock()
	defer mu.Unlock()

	if c, ok := cache[pattern]; ok {
		return c
	}
	// Redis negates a class with [^...]; gobwas/glob spells it [!...].
	src := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		src = append(src, pattern[i])
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern):
			i++
			src = append(src, pattern[i])
		case pattern[i] == '[' && i+1 < len(pattern) && pattern[i+1] == '^':
			src = append(src, '!')
			i++
		}
	}
	g, err := glob.Compile(string(src))
	var c compiled
	if err != nil {
		// An unparsable pattern matches nothing rather than erroring KEYS out.
		c = compiled{ok: false}
	} else {
		c = compiled{g: g, ok: true}
	}
	cache[pattern] = c
	return c
}

//go:build debug

package cache

// contract violations panic in debug builds
const debugInvariants = true

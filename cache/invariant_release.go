//go:build !debug

package cache

const debugInvariants = false

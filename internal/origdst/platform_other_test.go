//go:build !freebsd && !openbsd

package origdst

const isBSD = false

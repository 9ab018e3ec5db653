//go:build !unix

package tcp

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }

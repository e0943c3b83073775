//go:build !unix

package gree

import "syscall"

func broadcastControl(network, address string, c syscall.RawConn) error {
	return nil
}

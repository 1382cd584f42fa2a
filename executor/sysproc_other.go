//go:build !unix

package executor

import "syscall"

func detachedSysProcAttr() *syscall.SysProcAttr { return nil }

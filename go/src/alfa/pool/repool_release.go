//go:build !debug

package pool

import "code.harrowgate.dev/repdelta/go/src/_/interfaces"

func wrapRepoolDebug(repool interfaces.FuncRepool) interfaces.FuncRepool {
	return repool
}

func OutstandingBorrows() int64 {
	return 0
}

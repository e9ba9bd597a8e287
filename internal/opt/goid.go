package opt

import (
	"bytes"
	"runtime"
	"strconv"
)

// Gid returns the current goroutine's ID by parsing the header line of its
// stack dump ("goroutine N [running]:"). The runtime exposes no supported
// API for this.
//
// Trade-offs:
//   - Cost is roughly a microsecond per call, so it belongs on ownership
//     checks (reentrancy, fair-queue identity), never on pure CAS paths.
//   - Unlike linkname tricks against runtime.g, the stack header format has
//     been stable across every Go release and works under the race detector.
func Gid() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		panic("qsync: cannot parse goroutine id: " + err.Error())
	}
	return id
}

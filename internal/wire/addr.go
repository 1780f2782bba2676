package wire

import (
	"strconv"
	"strings"
)

// PidFromAddr recovers the Pid encoded in a loopback UDP source address of
// the form "127.0.0.1:PORT", inverting Addr. It returns false if the
// address doesn't parse as one of this cluster's endpoints.
func PidFromAddr(addr string) (Pid, bool) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return 0, false
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil || port < BasePort {
		return 0, false
	}
	return Pid(port - BasePort), true
}

package jsonrpc

import (
	"bufio"
	"io"

	"pkt.systems/pslog"
)

// TailStderr logs each stderr line of a server process until r ends.
func TailStderr(r io.Reader, logger pslog.Logger, msg string) {
	if r == nil {
		return
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		logger.Debug(msg, "line", sc.Text())
	}
	_, _ = io.Copy(io.Discard, r)
}

//go:build linux

package ptyproc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// foregroundProcessName resolves the PTY's foreground process group and
// reads its comm name via /proc. Grounded on the DOMAIN STACK decision to
// use golang.org/x/sys/unix's TIOCGPGRP ioctl for current_process_name.
func foregroundProcessName(master *os.File) string {
	pgid, err := unix.IoctlGetInt(int(master.Fd()), unix.TIOCGPGRP)
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pgid))
	if err != nil {
		return ""
	}
	name := string(data)
	for len(name) > 0 && (name[len(name)-1] == '\n' || name[len(name)-1] == '\r') {
		name = name[:len(name)-1]
	}
	return name
}

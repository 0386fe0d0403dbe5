//go:build !linux

package ptyproc

import "os"

// foregroundProcessName has no portable implementation outside Linux;
// callers fall back to "shell".
func foregroundProcessName(master *os.File) string {
	return ""
}

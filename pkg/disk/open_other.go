//go:build !linux
// +build !linux

package disk

import "os"

func adviseSequential(_ *os.File) {}

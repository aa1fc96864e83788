//go:build !unix

package main

import "os/exec"

func detach(_ *exec.Cmd) {}

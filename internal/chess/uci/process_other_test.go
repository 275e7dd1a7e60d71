//go:build !unix

package uci

func processRunning(int) bool { return false }

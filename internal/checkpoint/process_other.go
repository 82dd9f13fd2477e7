//go:build !unix

package checkpoint

// processAlive cannot probe other processes here, so locks only go stale by
// age.
func processAlive(int) bool { return true }

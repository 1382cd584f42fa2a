//go:build !linux

package capability

// Namespace isolation is Linux-only; other hosts always get the
// development verdict.
func probeNamespaces() bool { return false }

func probeCgroup() bool { return false }

func readSeccompMode() int { return SeccompUnknown }

//go:build !linux

package supervisor

import "fmt"

func loadSeccompFilter(denied []string) error {
	if len(denied) == 0 {
		return nil
	}
	return fmt.Errorf("seccomp filtering requires linux")
}

//go:build !unix

package convert

import "os"

func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".webpconv-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

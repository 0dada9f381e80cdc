//go:build !amd64 && !arm64

package cycles

// TSC falls back to Nanotime on architectures without a readable cycle
// counter.
func TSC() Counter {
	return Nanotime()
}

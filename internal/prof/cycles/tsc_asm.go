//go:build amd64 || arm64

package cycles

// readTSC returns the raw hardware counter: RDTSC on amd64, CNTVCT_EL0 on
// arm64. Implemented in tsc_amd64.s and tsc_arm64.s.
//
//go:noescape
func readTSC() uint64

// TSC returns a Counter backed by the processor's cycle (or constant-rate
// virtual) counter.
//
// The counter is read without serialization, so the reading can drift a few
// cycles against surrounding instructions. On machines whose timestamp
// counters are not synchronized across cores, a goroutine that migrates
// between threads can observe non-monotonic readings; use Nanotime there.
func TSC() Counter {
	return CounterFunc(readTSC)
}

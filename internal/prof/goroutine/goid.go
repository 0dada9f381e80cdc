package goroutine

import "runtime"

// ID returns the current goroutine ID.
//
// Stack trace format: "goroutine 123 [running]:\n..."
//
// Performance: ~1µs per call (dominated by runtime.Stack).
//
// Returns:
//   - int64: Goroutine ID (always positive), or 0 if parsing fails
func ID() int64 {
	// Only the first line is needed.
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the goroutine ID from stack trace bytes.
//
// Expected format: "goroutine 123 [running]:..."
// Returns the numeric ID (123 in this example) or 0 if parsing fails.
//
// No string conversion of the digits, no regex.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	const prefixLen = len(prefix)

	if len(buf) < prefixLen || string(buf[:prefixLen]) != prefix {
		return 0
	}

	var gid int64
	for i := prefixLen; i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			// Non-digit terminates the ID (usually space before "[running]").
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}

// LiveIDs returns the IDs of all goroutines currently alive.
//
// This uses runtime.Stack(all=true), which stops the world briefly. It is
// used only by the periodic reclamation scan.
//
// Performance: ~1ms for 1000 goroutines, growing linearly with the number
// of goroutines and their stack depth.
func LiveIDs() []int64 {
	// The buffer doubles until the whole dump fits. A truncated dump would
	// omit live goroutines and get their call stacks reclaimed.
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return parseAllGIDs(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// parseAllGIDs parses runtime.Stack(all=true) output to extract all goroutine
// IDs.
//
// Input format (example):
//
//	goroutine 1 [running]:
//	main.main()
//	    /path/to/main.go:10 +0x20
//
//	goroutine 5 [chan receive]:
//	main.worker()
//	    /path/to/main.go:20 +0x40
//
// We extract: [1, 5]
func parseAllGIDs(buf []byte) []int64 {
	var gids []int64

	i := 0
	for i < len(buf) {
		end := i
		for end < len(buf) && buf[end] != '\n' {
			end++
		}

		if gid := parseGID(buf[i:end]); gid != 0 {
			gids = append(gids, gid)
		}

		i = end + 1
	}

	return gids
}

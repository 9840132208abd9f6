package wire

import "bytes"

// maxFrameSize bounds how far ScanFrame will look for a closing marker
// before giving up and resyncing, so a corrupted stream with no
// closing marker can't grow an unbounded buffer.
const maxFrameSize = 4096

// ScanFrame looks for one complete marker-delimited frame at the start
// of buf. It returns the frame (markers included, ready for Decode),
// the unconsumed remainder of buf, and true if a frame was found. If
// buf does not yet contain a complete frame, ok is false and rest is
// what the caller should keep before reading more bytes and retrying:
// buf from the first opening marker on, or only its last three bytes
// when no marker has been seen yet. Bytes preceding the first opening
// marker are silently discarded, mirroring
// how the stick resynchronizes after noise on the line.
func ScanFrame(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(buf, openingMarker)
	if start < 0 {
		// Keep only a marker-prefix-length tail in case the marker is
		// split across reads.
		if keep := len(openingMarker) - 1; len(buf) > keep {
			return nil, buf[len(buf)-keep:], false
		}
		return nil, buf, false
	}
	buf = buf[start:]

	end := bytes.Index(buf[len(openingMarker):], closingMarker)
	if end < 0 {
		if len(buf) > maxFrameSize {
			// Drop this candidate start and look further in.
			return ScanFrame(buf[len(openingMarker):])
		}
		return nil, buf, false
	}
	frameEnd := len(openingMarker) + end + len(closingMarker)
	return buf[:frameEnd], buf[frameEnd:], true
}

package sync

// MaxVendorWindowSeconds is the hard per-request time-span limit the vendor
// imposes on pull endpoints.
const MaxVendorWindowSeconds = 86399

// Window is a closed, vendor-legal sub-range of a larger requested span,
// in epoch seconds.
type Window struct {
	Start int64
	End   int64
}

// Seconds returns the span of the window.
func (w Window) Seconds() int64 {
	return w.End - w.Start
}

// ChunkRange splits [startEpochSec, endEpochSec] into ordered, non-overlapping
// closed windows, each spanning at most maxWindowSeconds. The windows cover
// the input range inclusively with no gaps. A reversed range yields no
// windows.
func ChunkRange(startEpochSec, endEpochSec, maxWindowSeconds int64) []Window {
	if startEpochSec > endEpochSec || maxWindowSeconds <= 0 {
		return nil
	}

	var windows []Window
	for cur := startEpochSec; cur <= endEpochSec; {
		end := cur + maxWindowSeconds
		if end > endEpochSec {
			end = endEpochSec
		}
		windows = append(windows, Window{Start: cur, End: end})
		cur = end + 1
	}
	return windows
}

package session

// looksSilent samples up to window bytes of the audio prefix and counts
// samples deviating from the encoding midpoint (128) by more than the
// deviation threshold. Fewer than minActive such samples is treated as
// silence. This is a cheap signal-energy proxy, not voice-activity
// detection; the thresholds are tunable via configuration.
func looksSilent(audio []byte, window, deviation, minActive int) bool {
	if window <= 0 || minActive <= 0 {
		return false
	}
	n := len(audio)
	if n > window {
		n = window
	}
	active := 0
	for i := 0; i < n; i++ {
		d := int(audio[i]) - 128
		if d < 0 {
			d = -d
		}
		if d > deviation {
			active++
			if active >= minActive {
				return false
			}
		}
	}
	return active < minActive
}

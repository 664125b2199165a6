package rollback

const frameWindow = 40

// timeSync averages local and remote frame advantage over a sliding window.
type timeSync struct {
	local  [frameWindow]int
	remote [frameWindow]int
}

func (t *timeSync) advanceFrame(frame Frame, localAdv, remoteAdv int) {
	i := int(frame) % frameWindow
	t.local[i] = localAdv
	t.remote[i] = remoteAdv
}

// framesAhead is positive when this peer runs ahead of the remote one.
func (t *timeSync) framesAhead() int {
	var localSum, remoteSum int
	for i := 0; i < frameWindow; i++ {
		localSum += t.local[i]
		remoteSum += t.remote[i]
	}
	localAvg := float64(localSum) / frameWindow
	remoteAvg := float64(remoteSum) / frameWindow
	return int((remoteAvg - localAvg) / 2)
}

package rollback

const queueLen = 128

type queued struct {
	frame Frame
	input byte
}

// inputQueue holds one player's confirmed inputs and the predictions handed
// out for frames not yet confirmed.
type inputQueue struct {
	confirmed      [queueLen]queued
	predicted      [queueLen]queued
	lastAdded      Frame
	firstIncorrect Frame
}

func newInputQueue() *inputQueue {
	q := &inputQueue{lastAdded: NullFrame, firstIncorrect: NullFrame}
	for i := range q.confirmed {
		q.confirmed[i].frame = NullFrame
		q.predicted[i].frame = NullFrame
	}
	return q
}

// add confirms input for frame. Frames must arrive contiguously; anything
// else is ignored and reported false.
func (q *inputQueue) add(frame Frame, input byte) bool {
	if frame != q.lastAdded+1 {
		return false
	}
	idx := frame % queueLen
	q.confirmed[idx] = queued{frame: frame, input: input}
	q.lastAdded = frame

	if p := q.predicted[idx]; p.frame == frame {
		if p.input != input && (q.firstIncorrect == NullFrame || frame < q.firstIncorrect) {
			q.firstIncorrect = frame
		}
		q.predicted[idx].frame = NullFrame
	}
	return true
}

// input returns the input for frame, predicting it from the last confirmed
// input when it has not arrived yet.
func (q *inputQueue) input(frame Frame) (byte, InputStatus) {
	if frame <= q.lastAdded {
		if e := q.confirmed[frame%queueLen]; e.frame == frame {
			return e.input, Confirmed
		}
		// Older than the queue retains; the frame is long confirmed.
		return 0, Confirmed
	}
	var guess byte
	if q.lastAdded != NullFrame {
		guess = q.confirmed[q.lastAdded%queueLen].input
	}
	q.predicted[frame%queueLen] = queued{frame: frame, input: guess}
	return guess, Predicted
}

// confirmedInput returns a confirmed input without predicting.
func (q *inputQueue) confirmedInput(frame Frame) (byte, bool) {
	if frame < 0 || frame > q.lastAdded {
		return 0, false
	}
	e := q.confirmed[frame%queueLen]
	return e.input, e.frame == frame
}

func (q *inputQueue) resetPrediction() {
	q.firstIncorrect = NullFrame
}

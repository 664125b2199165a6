package rollback

import "fmt"

// syncLayer tracks the current frame, the saved cells and every player's
// input queue.
type syncLayer struct {
	maxPrediction int
	cells         []*Cell
	queues        []*inputQueue
	currentFrame  Frame
	lastConfirmed Frame
}

func newSyncLayer(numPlayers, maxPrediction int) *syncLayer {
	s := &syncLayer{
		maxPrediction: maxPrediction,
		cells:         make([]*Cell, maxPrediction+2),
		queues:        make([]*inputQueue, numPlayers),
		lastConfirmed: NullFrame,
	}
	for i := range s.cells {
		s.cells[i] = &Cell{frame: NullFrame}
	}
	for i := range s.queues {
		s.queues[i] = newInputQueue()
	}
	return s
}

func (s *syncLayer) cell(frame Frame) *Cell {
	return s.cells[int(frame)%len(s.cells)]
}

func (s *syncLayer) saveCurrent() Request {
	return Request{Kind: SaveRequest, Frame: s.currentFrame, Cell: s.cell(s.currentFrame)}
}

// loadFrame rewinds to frame, which must still be held by a cell.
func (s *syncLayer) loadFrame(frame Frame) (Request, error) {
	if frame >= s.currentFrame || s.currentFrame-frame > Frame(len(s.cells)-1) {
		return Request{}, fmt.Errorf("cannot load frame %d at frame %d", frame, s.currentFrame)
	}
	c := s.cell(frame)
	if c.frame != frame {
		return Request{}, fmt.Errorf("cell for frame %d holds frame %d", frame, c.frame)
	}
	s.currentFrame = frame
	return Request{Kind: LoadRequest, Frame: frame, Cell: c}, nil
}

func (s *syncLayer) advance() { s.currentFrame++ }

// inputs gathers every player's input for the current frame.
func (s *syncLayer) inputs(status []ConnectStatus) []PlayerInput {
	out := make([]PlayerInput, len(s.queues))
	for i, q := range s.queues {
		if status[i].Disconnected && status[i].LastFrame < s.currentFrame {
			out[i] = PlayerInput{Status: Disconnected}
			continue
		}
		in, st := q.input(s.currentFrame)
		out[i] = PlayerInput{Input: in, Status: st}
	}
	return out
}

// firstIncorrect returns the earliest mispredicted frame over all players.
func (s *syncLayer) firstIncorrect() Frame {
	first := NullFrame
	for _, q := range s.queues {
		if q.firstIncorrect != NullFrame && (first == NullFrame || q.firstIncorrect < first) {
			first = q.firstIncorrect
		}
	}
	return first
}

func (s *syncLayer) resetPrediction() {
	for _, q := range s.queues {
		q.resetPrediction()
	}
}

func (s *syncLayer) setLastConfirmed(frame Frame) {
	if frame >= s.currentFrame {
		frame = s.currentFrame - 1
	}
	s.lastConfirmed = frame
}

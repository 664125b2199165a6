package stats

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"
)

// TransitionSuffix names the transition log kept next to a sample log.
const TransitionSuffix = ".transitions"

// logEntry decodes one line of either log. Lines with a target state are
// transitions; everything else is a sample.
type logEntry struct {
	Sample
	From   string `json:"from"`
	To     string `json:"to"`
	Detail string `json:"detail"`
}

func (e logEntry) transition() (Transition, bool) {
	if e.To == "" {
		return Transition{}, false
	}
	return Transition{Timestamp: e.Timestamp, From: e.From, To: e.To, Detail: e.Detail}, true
}

func readLog(r io.Reader) ([]logEntry, error) {
	dec := json.NewDecoder(r)
	var out []logEntry
	for {
		var e logEntry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, err
		}
		out = append(out, e)
	}
}

// ReplayLog replays a log of samples and transitions from r, in the order
// they were written. Transitions are dropped when transitions is nil.
// A speed >0 scales the recorded delays; if speed <= 0 none are inserted.
func ReplayLog(r io.Reader, samples Writer, transitions TransitionWriter, speed float64) error {
	entries, err := readLog(r)
	if err != nil {
		return err
	}
	return replay(entries, samples, transitions, speed)
}

// ReplayLogFile replays the sample log at path merged by timestamp with
// its transition log, when one exists.
func ReplayLogFile(path string, samples Writer, transitions TransitionWriter, speed float64) error {
	entries, err := readLogFile(path)
	if err != nil {
		return err
	}
	if transitions != nil {
		more, err := readLogFile(path + TransitionSuffix)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return err
		default:
			entries = append(entries, more...)
			sort.SliceStable(entries, func(i, j int) bool {
				return entries[i].Timestamp.Before(entries[j].Timestamp)
			})
		}
	}
	return replay(entries, samples, transitions, speed)
}

func readLogFile(path string) ([]logEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLog(f)
}

func replay(entries []logEntry, samples Writer, transitions TransitionWriter, speed float64) error {
	var prev time.Time
	for _, e := range entries {
		if !prev.IsZero() && speed > 0 {
			diff := e.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				time.Sleep(diff)
			}
		}
		prev = e.Timestamp
		if t, ok := e.transition(); ok {
			if transitions == nil {
				continue
			}
			if err := transitions.WriteTransition(t); err != nil {
				return err
			}
			continue
		}
		if err := samples.Write(e.Sample); err != nil {
			return err
		}
	}
	return nil
}

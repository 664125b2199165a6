package stats

// MultiWriter fans samples and transitions out to several writers.
type MultiWriter struct {
	writers     []Writer
	transitions []TransitionWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws []Writer, tws []TransitionWriter) *MultiWriter {
	return &MultiWriter{writers: ws, transitions: tws}
}

// Write sends a sample to all writers.
func (mw *MultiWriter) Write(s Sample) error {
	for _, w := range mw.writers {
		if err := w.Write(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch sends multiple samples to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []Sample) error {
	for _, w := range mw.writers {
		if bw, ok := w.(batchWriter); ok {
			if err := bw.WriteBatch(rows); err != nil {
				return err
			}
			continue
		}
		for _, r := range rows {
			if err := w.Write(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteTransition sends a transition to all transition writers.
func (mw *MultiWriter) WriteTransition(t Transition) error {
	for _, w := range mw.transitions {
		if err := w.WriteTransition(t); err != nil {
			return err
		}
	}
	return nil
}

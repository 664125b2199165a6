package stats

import (
	"encoding/json"
	"os"
)

// FileWriter writes samples and transitions to JSONL files.
type FileWriter struct {
	sampleFile *os.File
	transFile  *os.File
	sampleEnc  *json.Encoder
	transEnc   *json.Encoder
}

// NewFileWriter creates a FileWriter. transitionPath may be empty to skip
// the transition log.
func NewFileWriter(samplePath, transitionPath string) (*FileWriter, error) {
	sf, err := os.Create(samplePath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{sampleFile: sf, sampleEnc: json.NewEncoder(sf)}
	if transitionPath != "" {
		tf, err := os.Create(transitionPath)
		if err != nil {
			sf.Close()
			return nil, err
		}
		fw.transFile = tf
		fw.transEnc = json.NewEncoder(tf)
	}
	return fw, nil
}

// Write logs a single sample.
func (f *FileWriter) Write(s Sample) error {
	return f.sampleEnc.Encode(s)
}

// WriteBatch logs multiple samples.
func (f *FileWriter) WriteBatch(rows []Sample) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteTransition logs a transition, if enabled.
func (f *FileWriter) WriteTransition(t Transition) error {
	if f.transEnc == nil {
		return nil
	}
	return f.transEnc.Encode(t)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.sampleFile != nil {
		if e := f.sampleFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.transFile != nil {
		if e := f.transFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		writes     []string
		exp        string
		expPending int
	}{
		{[]string{""}, "", 0},
		{[]string{"\n"}, "> \n", 0},
		{[]string{"memory: 64 frames"}, "> memory: 64 frames", 17},
		{[]string{"cpus: 3\n"}, "> cpus: 3\n", 0},
		{[]string{"\nlow\nhigh\ntotal"}, "> \n> low\n> high\n> total", 5},
		// a line assembled from several writes gets a single prefix
		{[]string{"pkmap: ", "0xf5600000", " (8 slots)\n"}, "> pkmap: 0xf5600000 (8 slots)\n", 0},
		{[]string{"fix", "map\nhigh", "_memory"}, "> fixmap\n> high_memory", 11},
		{[]string{"a\n", "", "b\n", "\n"}, "> a\n> b\n> \n", 0},
	}

	var buf bytes.Buffer

	for specIndex, spec := range specs {
		buf.Reset()
		w := PrefixWriter{Sink: &buf, Prefix: []byte("> ")}

		for _, input := range spec.writes {
			wrote, err := w.Write([]byte(input))
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}

			if wrote != len(input) {
				t.Errorf("[spec %d] expected writer to write %d bytes; wrote %d", specIndex, len(input), wrote)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}

		if w.bytesAfterPrefix != spec.expPending {
			t.Errorf("[spec %d] expected %d bytes after the last prefix; got %d", specIndex, spec.expPending, w.bytesAfterPrefix)
		}
	}
}

func TestPrefixWriterErrors(t *testing.T) {
	expErr := errors.New("write failed")

	specs := []struct {
		input string
		// okWrites is the number of sink writes that succeed before the
		// sink starts failing.
		okWrites   int
		expWritten int
	}{
		{"no line break", 0, 0},
		{"no line break", 1, 0},
		{"low\nhigh", 2, 4},
		{"low\nhigh", 3, 4},
	}

	for specIndex, spec := range specs {
		w := PrefixWriter{
			Sink:   &failingWriter{okWrites: spec.okWrites, err: expErr},
			Prefix: []byte("> "),
		}

		wrote, err := w.Write([]byte(spec.input))
		if err != expErr {
			t.Errorf("[spec %d] expected error: %v; got %v", specIndex, expErr, err)
		}

		if wrote != spec.expWritten {
			t.Errorf("[spec %d] expected %d bytes to be written; got %d", specIndex, spec.expWritten, wrote)
		}
	}
}

// failingWriter accepts okWrites writes and fails every write after that.
type failingWriter struct {
	okWrites int
	err      error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.okWrites == 0 {
		return 0, w.err
	}
	w.okWrites--
	return len(p), nil
}

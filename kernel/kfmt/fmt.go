package kfmt

import (
	"io"

	"gopherxen/kernel/sync"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is installed.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// outputLock serializes Printf calls issued by different CPUs.
	outputLock sync.Spinlock
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputLock.Acquire()
	defer outputLock.Release()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// Writer returns an io.Writer that forwards its input to the active output
// sink (or the early ring buffer when no sink is installed).
func Writer() io.Writer {
	return sinkWriter{}
}

type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	outputLock.Acquire()
	defer outputLock.Release()
	return activeSink().Write(p)
}

func activeSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf provides a minimal Printf implementation that supports the following
// subset of formatting verbs:
//
// Strings:
//		%s the uninterpreted bytes of the string or byte slice
//
// Integers:
//		%o base 8
//		%d base 10
//		%x base 16, with lower-case letters for a-f
//
// Booleans:
//		%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb. Strings and base-10 integers are left-padded with spaces while base-8
// and base-16 integers are left-padded with zeroes.
//
// The output of Printf is written to the currently installed output sink. If
// no sink is available, the output is buffered into a ring-buffer and is
// flushed to the sink passed to the next SetOutputSink call.
func Printf(format string, args ...interface{}) {
	outputLock.Acquire()
	defer outputLock.Release()

	Fprintf(activeSink(), format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArg    int
		blockStart int
		fmtLen     = len(format)
	)

	for index := 0; index < fmtLen; index++ {
		if format[index] != '%' {
			continue
		}

		if blockStart < index {
			_, _ = io.WriteString(w, format[blockStart:index])
		}

		padLen := 0
		for index++; index < fmtLen && format[index] >= '0' && format[index] <= '9'; index++ {
			padLen = padLen*10 + int(format[index]-'0')
		}
		blockStart = index + 1

		if index == fmtLen {
			_, _ = w.Write(errNoVerb)
			break
		}

		verb := format[index]
		switch verb {
		case '%':
			_, _ = w.Write([]byte{'%'})
			continue
		case 'o', 'd', 'x', 's', 't':
		default:
			_, _ = w.Write(errNoVerb)
			continue
		}

		if nextArg >= len(args) {
			_, _ = w.Write(errMissingArg)
			continue
		}

		switch verb {
		case 'o':
			fmtInt(w, args[nextArg], 8, padLen)
		case 'd':
			fmtInt(w, args[nextArg], 10, padLen)
		case 'x':
			fmtInt(w, args[nextArg], 16, padLen)
		case 's':
			fmtString(w, args[nextArg], padLen)
		case 't':
			fmtBool(w, args[nextArg])
		}
		nextArg++
	}

	if blockStart < fmtLen {
		_, _ = io.WriteString(w, format[blockStart:])
	}

	for ; nextArg < len(args); nextArg++ {
		_, _ = w.Write(errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		_, _ = w.Write(errWrongArgType)
	case bVal:
		_, _ = w.Write(trueValue)
	default:
		_, _ = w.Write(falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, padLen int) {
	switch str := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(str))
		_, _ = io.WriteString(w, str)
	case []byte:
		fmtRepeat(w, ' ', padLen-len(str))
		_, _ = w.Write(str)
	case *string:
		fmtString(w, *str, padLen)
	default:
		_, _ = w.Write(errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		_, _ = w.Write([]byte{ch})
	}
}

// fmtInt prints out v in the requested base, applying the padding specified
// by padLen. Padding is capped to maxBufSize-1 characters.
func fmtInt(w io.Writer, v interface{}, base uint64, padLen int) {
	var (
		uval     uint64
		negative bool
		buf      [maxBufSize + 1]byte
		pos      = len(buf)
	)

	switch val := v.(type) {
	case uint8:
		uval = uint64(val)
	case uint16:
		uval = uint64(val)
	case uint32:
		uval = uint64(val)
	case uint64:
		uval = val
	case uint:
		uval = uint64(val)
	case uintptr:
		uval = uint64(val)
	case int8:
		uval, negative = absInt(int64(val))
	case int16:
		uval, negative = absInt(int64(val))
	case int32:
		uval, negative = absInt(int64(val))
	case int64:
		uval, negative = absInt(val)
	case int:
		uval, negative = absInt(int64(val))
	default:
		_, _ = w.Write(errWrongArgType)
		return
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	for {
		pos--
		buf[pos] = "0123456789abcdef"[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	digitsWidth := padLen
	if negative && padCh == ' ' {
		digitsWidth--
	}

	if padCh == '0' {
		for len(buf)-pos < digitsWidth {
			pos--
			buf[pos] = padCh
		}
	}

	if negative {
		pos--
		buf[pos] = '-'
	}

	for len(buf)-pos < padLen {
		pos--
		buf[pos] = ' '
	}

	_, _ = w.Write(buf[pos:])
}

func absInt(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

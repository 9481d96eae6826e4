package filemap

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
)

const indexChunkSize = 64 * 1024

// ErrLineTooLong is returned when a line does not fit the caller's buffer.
var ErrLineTooLong = errors.New("line longer than buffer")

// LineIndex maps line numbers of a file to byte ranges so single lines can
// be read back through a pooled handle without rescanning. Lines end at
// '\n'; a trailing unterminated line counts as a line.
type LineIndex struct {
	// ends[i] is the offset one past the last content byte of line i.
	ends []int64
	size int64
}

// IndexLines scans the whole file behind h. It leaves h positioned at the
// end of the file.
func IndexLines(h *Handle) (*LineIndex, error) {
	f, err := h.Materialize()
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to beginning: %w", err)
	}

	li := &LineIndex{ends: make([]int64, 0)}
	buffer := make([]byte, indexChunkSize)
	lastPos := int64(0)

	for {
		n, readErr := f.Read(buffer)
		for i := 0; i < n; i++ {
			if buffer[i] == '\n' {
				li.ends = append(li.ends, lastPos+int64(i))
			}
		}
		lastPos += int64(n)

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed reading %s: %w", h.Path(), readErr)
		}
	}

	li.size = lastPos
	if lastLineEnd := li.lastTerminator(); lastPos > 0 && lastLineEnd+1 < lastPos {
		li.ends = append(li.ends, lastPos)
	}

	return li, nil
}

// lastTerminator returns the offset of the last '\n', or -1.
func (li *LineIndex) lastTerminator() int64 {
	if len(li.ends) == 0 {
		return -1
	}
	return li.ends[len(li.ends)-1]
}

// Len returns the number of lines.
func (li *LineIndex) Len() int {
	return len(li.ends)
}

// Size returns the file size seen while indexing.
func (li *LineIndex) Size() int64 {
	return li.size
}

// Bounds returns the byte range [start, end) of line i, without its newline.
func (li *LineIndex) Bounds(i int) (start, end int64, err error) {
	if i < 0 || i >= len(li.ends) {
		return 0, 0, fmt.Errorf("line %d out of range [0, %d)", i, len(li.ends))
	}
	if i > 0 {
		start = li.ends[i-1] + 1
	}
	return start, li.ends[i], nil
}

// Line reads line i into buf and returns the number of bytes read.
func (li *LineIndex) Line(h *Handle, buf []byte, i int) (int, error) {
	start, end, err := li.Bounds(i)
	if err != nil {
		return 0, err
	}
	readN, readErr := readSegment(h, buf, start, int(end-start))
	if readErr != nil {
		return 0, fmt.Errorf("failed to read line %d (%d-%d) of %s: %w", i, start, end, h.Path(), readErr)
	}
	return readN, nil
}

// PickRandom reads a uniformly chosen line into buf and returns its index
// and length.
func (li *LineIndex) PickRandom(h *Handle, buf []byte) (int, int, error) {
	if len(li.ends) == 0 {
		return 0, 0, fmt.Errorf("no lines indexed for %s", h.Path())
	}
	r := rand.IntN(len(li.ends))
	n, err := li.Line(h, buf, r)
	return r, n, err
}

func readSegment(h *Handle, buf []byte, offset int64, length int) (int, error) {
	if length > len(buf) {
		return 0, fmt.Errorf("%w: segment of %d bytes, buffer of %d", ErrLineTooLong, length, len(buf))
	}

	f, err := h.Materialize()
	if err != nil {
		return 0, err
	}
	if _, seekErr := f.Seek(offset, io.SeekStart); seekErr != nil {
		return 0, fmt.Errorf("failed to seek file to offset %d: %w", offset, seekErr)
	}

	readN, readErr := io.ReadFull(f, buf[:length])
	if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return 0, readErr
	}
	return readN, nil
}

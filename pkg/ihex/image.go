// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ihex

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/marcinbor85/gohex"
)

// MaxImageSize is the address space covered by 16-bit record addresses
const MaxImageSize = 0x10000

// Padding fills gaps between data records
const Padding = 0x00

// Segment is a contiguous run of data in the image
type Segment struct {
	Address uint32
	Size    int
}

// Image is a flat flash image. Bytes()[addr] is the byte to program at addr.
type Image struct {
	data     []byte
	segments []Segment
	skipped  int
}

// NewImage wraps raw bytes as an image starting at address 0
func NewImage(data []byte) *Image {
	img := &Image{data: data}
	if len(data) > 0 {
		img.segments = []Segment{{Address: 0, Size: len(data)}}
	}
	return img
}

// Bytes returns the image contents, Size() bytes long
func (i *Image) Bytes() []byte {
	return i.data
}

// Size returns the highest programmed address plus one
func (i *Image) Size() int {
	return len(i.data)
}

// Segments returns the contiguous data runs in address order
func (i *Image) Segments() []Segment {
	return i.segments
}

// Skipped returns the number of lines rejected while loading
func (i *Image) Skipped() int {
	return i.skipped
}

// LoadError reports a firmware file that could not be loaded
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load reads an Intel HEX file. onLineError, if not nil, is called for every
// skipped line.
func Load(path string, onLineError func(*LineError)) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	img, err := Parse(f, onLineError)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return img, nil
}

// Parse reads Intel HEX records from r until the end-of-file record. Lines
// after it are ignored. Address extension and start address records are
// validated but do not move data: the image covers 64 KiB only.
func Parse(r io.Reader, onLineError func(*LineError)) (*Image, error) {
	mem := gohex.NewMemory()
	img := &Image{}
	maxEnd := 0
	sawEOF := false

	reject := func(lineNo int, text string, err error) {
		img.skipped++
		if onLineError != nil {
			onLineError(&LineError{Line: lineNo, Text: text, Err: err})
		}
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if len(text) == 0 || text == "\r" {
			continue
		}

		rec, err := ParseRecord(text)
		if err != nil {
			reject(lineNo, text, err)
			continue
		}

		switch rec.Type {
		case RecordEOF:
			sawEOF = true
		case RecordData:
			if rec.End() > MaxImageSize {
				reject(lineNo, text, fmt.Errorf("%w: 0x%04X+%d", ErrAddressRange, rec.Address, len(rec.Data)))
				continue
			}
			if len(rec.Data) == 0 {
				continue
			}
			if err := mem.AddBinary(uint32(rec.Address), rec.Data); err != nil {
				reject(lineNo, text, err)
				continue
			}
			if rec.End() > maxEnd {
				maxEnd = rec.End()
			}
		}

		if sawEOF {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawEOF {
		return nil, ErrNoEOF
	}

	img.data = mem.ToBinary(0, uint32(maxEnd), Padding)
	for _, seg := range mem.GetDataSegments() {
		img.segments = append(img.segments, Segment{Address: seg.Address, Size: len(seg.Data)})
	}
	return img, nil
}

package kongsberg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	stx = 0x02
	etx = 0x03

	lengthFieldSize = 4
	headerSize      = 16 // STX through serial number, after the length field
	trailerSize     = 3  // ETX + checksum
	minLength       = headerSize + trailerSize
)

// Reader iterates sequentially over the datagrams of one .all file.
// It is not safe for concurrent use.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	name   string
	size   int64
	offset int64
	last   Header
}

// Open opens the file at path and prepares a reader positioned at the
// start of the data region.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	rd := NewReader(f, info.Size(), path)
	rd.closer = f
	return rd, nil
}

// NewReader reads size bytes from r. name is used in errors only.
func NewReader(r io.ReaderAt, size int64, name string) *Reader {
	return &Reader{r: r, size: size, name: name}
}

// Close releases the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	r.r = nil
	return err
}

// Name returns the name the reader was created with
func (r *Reader) Name() string {
	return r.name
}

// Offset returns the byte offset of the next datagram
func (r *Reader) Offset() int64 {
	return r.offset
}

// Rewind moves back to the start of the data region. A .all file carries
// no file level header, so the data region starts at offset zero.
func (r *Reader) Rewind() {
	r.offset = 0
	r.last = Header{}
}

// MoreData reports whether unread bytes remain
func (r *Reader) MoreData() bool {
	return r.r != nil && r.offset < r.size
}

// CurrentRecordDateTime returns the timestamp of the datagram most
// recently returned by ReadDatagram.
func (r *Reader) CurrentRecordDateTime() time.Time {
	return r.last.Time()
}

// ReadDatagram returns the next datagram and advances past its declared
// length. It returns io.EOF once the data is exhausted and a *FormatError
// when the frame is truncated or corrupt. Payload fields are not decoded.
func (r *Reader) ReadDatagram() (Datagram, error) {
	if r.r == nil {
		return Datagram{}, ErrReaderClose
	}
	if r.offset >= r.size {
		return Datagram{}, io.EOF
	}
	remaining := r.size - r.offset
	if remaining < lengthFieldSize {
		return Datagram{}, r.formatError(fmt.Sprintf("%d trailing bytes cannot hold a length field", remaining), ErrTruncated)
	}

	var lb [lengthFieldSize]byte
	if err := readFullAt(r.r, lb[:], r.offset); err != nil {
		return Datagram{}, r.formatError("reading length field", err)
	}
	length := int64(binary.LittleEndian.Uint32(lb[:]))
	if length < minLength {
		return Datagram{}, r.formatError(fmt.Sprintf("declared length %d is shorter than a datagram header", length), ErrTruncated)
	}
	if length > remaining-lengthFieldSize {
		return Datagram{}, r.formatError(fmt.Sprintf("declared length %d exceeds %d remaining bytes", length, remaining-lengthFieldSize), ErrTruncated)
	}

	raw := make([]byte, length)
	if err := readFullAt(r.r, raw, r.offset+lengthFieldSize); err != nil {
		return Datagram{}, r.formatError("reading datagram", err)
	}
	if raw[0] != stx {
		return Datagram{}, r.formatError(fmt.Sprintf("expected STX, found 0x%02X", raw[0]), ErrMissingSTX)
	}

	hdr := parseHeader(uint32(length), raw)
	dg := Datagram{
		Header: hdr,
		Offset: r.offset,
		path:   r.name,
		raw:    raw,
	}
	r.offset += lengthFieldSize + length
	r.last = hdr
	return dg, nil
}

func (r *Reader) formatError(reason string, err error) *FormatError {
	return &FormatError{Path: r.name, Offset: r.offset, Reason: reason, Err: err}
}

func parseHeader(length uint32, raw []byte) Header {
	return Header{
		Length:  length,
		Type:    raw[1],
		Model:   binary.LittleEndian.Uint16(raw[2:4]),
		Date:    binary.LittleEndian.Uint32(raw[4:8]),
		TimeMs:  binary.LittleEndian.Uint32(raw[8:12]),
		Counter: binary.LittleEndian.Uint16(raw[12:14]),
		Serial:  binary.LittleEndian.Uint16(raw[14:16]),
	}
}

// readFullAt reads len(buf) bytes at off. io.ReaderAt may report io.EOF
// alongside a complete read at the end of the input.
func readFullAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

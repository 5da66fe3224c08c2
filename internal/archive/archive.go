// Package archive implements a deterministic, tar-like archive format:
// files sorted by relative path in byte-wise Unicode order, regular files
// only, no extended attributes or special
// nodes. It streams directly into the cryptostream cipher rather than
// producing a standalone file, so framing is hand-rolled instead of using
// archive/tar (see DESIGN.md).
package archive

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/barqly/vault-core/internal/vaulterr"
)

const (
	magic       = "BVAR1\x00" // Barqly Vault ARchive, version 1
	regularMode = 0o644
)

// Entry describes one file staged for archiving.
type Entry struct {
	RelativePath string
	Size         int64
	Open         func() (io.ReadCloser, error)
}

// SortEntries sorts entries by relative path using byte-wise order for a
// deterministic on-disk layout.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return strings.Compare(entries[i].RelativePath, entries[j].RelativePath) < 0
	})
}

// Write streams entries (already sorted by SortEntries) into w as a
// deterministic archive. Each call to onEntry (if non-nil) fires after each
// file's bytes have been written, passing the running total — used by the
// orchestrator to emit Encrypting progress events at file/chunk boundaries.
func Write(w io.Writer, entries []Entry, onEntry func(path string, bytesWritten int64)) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magic); err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "write archive magic", err)
	}
	if err := writeUint32(bw, uint32(len(entries))); err != nil {
		return err
	}

	var total int64
	for _, e := range entries {
		if err := writeHeader(bw, e); err != nil {
			return err
		}
		rc, err := e.Open()
		if err != nil {
			return vaulterr.Wrap(vaulterr.CodeIoError, "open "+e.RelativePath, err)
		}
		n, err := io.Copy(bw, rc)
		closeErr := rc.Close()
		if err != nil {
			return vaulterr.Wrap(vaulterr.CodeIoError, "stream "+e.RelativePath, err)
		}
		if closeErr != nil {
			return vaulterr.Wrap(vaulterr.CodeIoError, "close "+e.RelativePath, closeErr)
		}
		if n != e.Size {
			return vaulterr.New(vaulterr.CodeIoError, "size changed while archiving "+e.RelativePath)
		}
		total += n
		if onEntry != nil {
			onEntry(e.RelativePath, total)
		}
	}
	return bw.Flush()
}

func writeHeader(w *bufio.Writer, e Entry) error {
	pathBytes := []byte(e.RelativePath)
	if err := writeUint32(w, uint32(len(pathBytes))); err != nil {
		return err
	}
	if _, err := w.Write(pathBytes); err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "write entry path", err)
	}
	if err := writeUint64(w, uint64(e.Size)); err != nil {
		return err
	}
	return writeUint32(w, regularMode)
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "write archive field", err)
	}
	return nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return vaulterr.Wrap(vaulterr.CodeIoError, "write archive field", err)
	}
	return nil
}

// ExtractedFile is one entry header yielded by Reader.Next.
type ExtractedFile struct {
	RelativePath string
	Size         int64
}

// Reader streams entries out of an archive, one at a time, via Next+CopyTo.
type Reader struct {
	r       *bufio.Reader
	remain  uint32
	current *ExtractedFile
}

// NewReader validates the archive magic/count header and returns a Reader
// positioned at the first entry.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	buf := make([]byte, len(magic))
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeTruncated, "read archive magic", err)
	}
	if string(buf) != magic {
		return nil, vaulterr.New(vaulterr.CodeHeaderMalformed, "not a barqly vault archive")
	}
	count, err := readUint32(br)
	if err != nil {
		return nil, err
	}
	return &Reader{r: br, remain: count}, nil
}

// Next advances to the next entry's header, or returns (nil, io.EOF) when exhausted.
func (r *Reader) Next() (*ExtractedFile, error) {
	if r.remain == 0 {
		return nil, io.EOF
	}
	r.remain--

	pathLen, err := readUint32(r.r)
	if err != nil {
		return nil, err
	}
	if pathLen == 0 || pathLen > 4096 {
		return nil, vaulterr.New(vaulterr.CodeHeaderMalformed, "invalid entry path length")
	}
	pathBuf := make([]byte, pathLen)
	if _, err := io.ReadFull(r.r, pathBuf); err != nil {
		return nil, vaulterr.Wrap(vaulterr.CodeTruncated, "read entry path", err)
	}
	size, err := readUint64(r.r)
	if err != nil {
		return nil, err
	}
	if _, err := readUint32(r.r); err != nil { // mode, unused beyond validation
		return nil, err
	}
	rel := string(pathBuf)
	if err := validateRelativePath(rel); err != nil {
		return nil, err
	}
	r.current = &ExtractedFile{RelativePath: rel, Size: int64(size)}
	return r.current, nil
}

// CopyTo streams the current entry's bytes to w. Must be called exactly
// once per Next before the next Next call.
func (r *Reader) CopyTo(w io.Writer) error {
	if r.current == nil {
		return vaulterr.New(vaulterr.CodeProtocolError, "CopyTo called without a current entry")
	}
	_, err := io.CopyN(w, r.r, r.current.Size)
	r.current = nil
	if err != nil {
		if err == io.EOF {
			return vaulterr.Wrap(vaulterr.CodeTruncated, "archive ended mid-entry", err)
		}
		return vaulterr.Wrap(vaulterr.CodeIoError, "write extracted entry", err)
	}
	return nil
}

func validateRelativePath(rel string) error {
	if rel == "" {
		return vaulterr.New(vaulterr.CodeInvalidInput, "empty entry path")
	}
	if strings.HasPrefix(rel, "/") || strings.Contains(rel, "\x00") {
		return vaulterr.New(vaulterr.CodePathTraversal, "absolute or embedded-NUL path: "+rel)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return vaulterr.New(vaulterr.CodePathTraversal, "path traversal in entry: "+rel)
		}
	}
	return nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, vaulterr.Wrap(vaulterr.CodeTruncated, "read archive field", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, vaulterr.Wrap(vaulterr.CodeTruncated, "read archive field", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

package aliasstore

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/vogelwacht/telling/internal/alias"
)

// Binary cache container: a self-describing artifact shared by the alias
// cache and other downloaded datasets. 32-byte big-endian header followed by
// the compressed payload.
//
//	offset  size  field
//	0       4     magic "TELX"
//	4       2     header version
//	6       2     dataset kind
//	8       1     codec tag
//	9       1     compression tag
//	10      6     reserved (zero)
//	16      4     payload length
//	20      4     uncompressed length
//	24      4     record-count hint
//	28      4     CRC32 (IEEE) over bytes 0..27
const (
	containerMagic   = "TELX"
	headerVersion    = 1
	headerSize       = 32
	kindAliasIndex   = 1
	codecGob         = 1
	compressionFlate = 1
)

// ErrBadContainer marks any structural defect in a binary cache artifact:
// wrong magic, checksum mismatch, truncated payload, undecodable content.
// The store treats it exactly like "not found" and falls through to the next
// tier; the artifact is left in place for manual inspection.
var ErrBadContainer = errors.New("aliasstore: bad cache container")

// encodeContainer serializes records into the container format.
func encodeContainer(records []alias.Record) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(records); err != nil {
		return nil, fmt.Errorf("aliasstore: gob encode %d records: %w", len(records), err)
	}

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("aliasstore: init compressor: %w", err)
	}
	if _, err := fw.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("aliasstore: compress payload: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("aliasstore: finish compression: %w", err)
	}

	out := make([]byte, headerSize, headerSize+compressed.Len())
	copy(out[0:4], containerMagic)
	binary.BigEndian.PutUint16(out[4:6], headerVersion)
	binary.BigEndian.PutUint16(out[6:8], kindAliasIndex)
	out[8] = codecGob
	out[9] = compressionFlate
	binary.BigEndian.PutUint32(out[16:20], uint32(compressed.Len()))
	binary.BigEndian.PutUint32(out[20:24], uint32(raw.Len()))
	binary.BigEndian.PutUint32(out[24:28], uint32(len(records)))
	binary.BigEndian.PutUint32(out[28:32], crc32.ChecksumIEEE(out[0:28]))

	return append(out, compressed.Bytes()...), nil
}

// decodeContainer parses and verifies a container artifact, returning the
// records it carries. All failures wrap [ErrBadContainer].
func decodeContainer(data []byte) ([]alias.Record, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadContainer, len(data))
	}
	if string(data[0:4]) != containerMagic {
		return nil, fmt.Errorf("%w: wrong magic %q", ErrBadContainer, data[0:4])
	}
	if sum := crc32.ChecksumIEEE(data[0:28]); sum != binary.BigEndian.Uint32(data[28:32]) {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrBadContainer)
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != headerVersion {
		return nil, fmt.Errorf("%w: unsupported header version %d", ErrBadContainer, v)
	}
	if k := binary.BigEndian.Uint16(data[6:8]); k != kindAliasIndex {
		return nil, fmt.Errorf("%w: dataset kind %d is not an alias index", ErrBadContainer, k)
	}
	if data[8] != codecGob || data[9] != compressionFlate {
		return nil, fmt.Errorf("%w: unsupported codec/compression %d/%d", ErrBadContainer, data[8], data[9])
	}

	payloadLen := binary.BigEndian.Uint32(data[16:20])
	if uint32(len(data)-headerSize) < payloadLen {
		return nil, fmt.Errorf("%w: truncated payload", ErrBadContainer)
	}
	payload := data[headerSize : headerSize+int(payloadLen)]

	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()
	raw, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadContainer, err)
	}
	if want := binary.BigEndian.Uint32(data[20:24]); uint32(len(raw)) != want {
		return nil, fmt.Errorf("%w: uncompressed length %d, header says %d", ErrBadContainer, len(raw), want)
	}

	var records []alias.Record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: gob decode: %v", ErrBadContainer, err)
	}
	return records, nil
}

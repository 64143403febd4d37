package aliasstore

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"reflect"
	"testing"

	"github.com/vogelwacht/telling/internal/alias"
)

func containerRecords() []alias.Record {
	return []alias.Record{
		alias.NewRecord("sp1", "Buizerd", "BZD", "buizerd", "", 1, alias.SourceSeedImport),
		alias.NewRecord("sp1", "Buizerd", "BZD", "muizenvalk", "", 0.8, alias.SourceFieldTraining),
		alias.NewRecord("sp2", "Merel", "", "merel", "", 1, alias.SourceSeedImport),
	}
}

func TestContainer_RoundTrip(t *testing.T) {
	want := containerRecords()

	blob, err := encodeContainer(want)
	if err != nil {
		t.Fatalf("encodeContainer: %v", err)
	}
	if len(blob) <= headerSize {
		t.Fatalf("container is %d bytes, want header plus payload", len(blob))
	}
	if string(blob[0:4]) != containerMagic {
		t.Errorf("magic = %q, want %q", blob[0:4], containerMagic)
	}
	if n := binary.BigEndian.Uint32(blob[24:28]); int(n) != len(want) {
		t.Errorf("record-count hint = %d, want %d", n, len(want))
	}

	got, err := decodeContainer(blob)
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestContainer_EmptyIndex(t *testing.T) {
	blob, err := encodeContainer(nil)
	if err != nil {
		t.Fatalf("encodeContainer(nil): %v", err)
	}
	got, err := decodeContainer(blob)
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("decoded %d records from an empty container", len(got))
	}
}

func TestContainer_RejectsDamage(t *testing.T) {
	valid, err := encodeContainer(containerRecords())
	if err != nil {
		t.Fatalf("encodeContainer: %v", err)
	}

	// reseal recomputes the header checksum so a header mutation is tested
	// on its own rather than shadowed by the CRC check.
	reseal := func(b []byte) []byte {
		binary.BigEndian.PutUint32(b[28:32], crc32.ChecksumIEEE(b[0:28]))
		return b
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:headerSize-1] }},
		{"wrong magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"checksum mismatch", func(b []byte) []byte { b[5] ^= 0xff; return b }},
		{"future header version", func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[4:6], headerVersion+1)
			return reseal(b)
		}},
		{"wrong dataset kind", func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[6:8], kindAliasIndex+1)
			return reseal(b)
		}},
		{"unknown codec", func(b []byte) []byte { b[8] = 99; return reseal(b) }},
		{"truncated payload", func(b []byte) []byte { return b[:headerSize+4] }},
		{"flipped payload byte", func(b []byte) []byte { b[headerSize+2] ^= 0xff; return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := tt.mutate(append([]byte(nil), valid...))
			if _, err := decodeContainer(blob); !errors.Is(err, ErrBadContainer) {
				t.Errorf("decodeContainer = %v, want ErrBadContainer", err)
			}
		})
	}
}

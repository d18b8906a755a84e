package tilepipe

import (
	"bytes"
	"reflect"
	"testing"
)

func TestSerialization(t *testing.T) {
	type complexObj struct {
		Title string
		MyMap map[string][]byte
	}
	obj := complexObj{
		Title: "my complex object",
		MyMap: map[string][]byte{
			"some index": {'\x33', '\x18', '\xD0', '\x92', '\x01'},
			"other":      []byte("here's another string"),
		},
	}

	for _, compression := range []Compression{Uncompressed, Snappy} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			s, err := Serialize(obj, compression, checksum)
			if err != nil {
				t.Fatalf("Serialize with %s, %s: %v\n", compression, checksum, err)
			}
			if len(s) == 0 {
				t.Errorf("Bad Serialize() - output length 0\n")
			}

			var back complexObj
			if err := Deserialize(s, &back); err != nil {
				t.Fatalf("Deserialize with %s, %s: %v\n", compression, checksum, err)
			}
			if !reflect.DeepEqual(obj, back) {
				t.Errorf("Deserialized object differs: got %v, want %v\n", back, obj)
			}

			if checksum == CRC32 {
				corrupt := make([]byte, len(s))
				copy(corrupt, s)
				corrupt[len(corrupt)-2] ^= 0x04 // flip a bit
				if err := Deserialize(corrupt, &back); err == nil {
					t.Errorf("Expected checksum failure after bit flip with %s\n", compression)
				}
			}
		}
	}
}

func TestSerializeData(t *testing.T) {
	data := bytes.Repeat([]byte("planetary raster "), 100)
	s, err := SerializeData(data, Snappy, CRC32)
	if err != nil {
		t.Fatalf("SerializeData: %v\n", err)
	}
	if len(s) >= len(data) {
		t.Errorf("Snappy compression of repetitive data did not shrink it: %d >= %d\n", len(s), len(data))
	}
	back, compression, err := DeserializeData(s, true)
	if err != nil {
		t.Fatalf("DeserializeData: %v\n", err)
	}
	if compression != Snappy {
		t.Errorf("Stored compression: got %s, want %s\n", compression, Snappy)
	}
	if !bytes.Equal(back, data) {
		t.Errorf("Round-tripped data differs\n")
	}
}

func TestSerializationFormat(t *testing.T) {
	f := EncodeSerializationFormat(Snappy, CRC32)
	compression, checksum := DecodeSerializationFormat(f)
	if compression != Snappy || checksum != CRC32 {
		t.Errorf("Format round trip: got %s, %s\n", compression, checksum)
	}
}

package usbtmc

import (
	"bytes"
	"testing"
)

func TestBTagNeverZero(t *testing.T) {
	g := newBTagGen()
	for i := 0; i < 600; i++ {
		if tag := g.nextbTag(); tag == 0 {
			t.Fatalf("bTag 0 generated on call %d", i)
		}
	}
}

func TestEncBulkOutHeader(t *testing.T) {
	hdr := encBulkOutHeader(newBTagGen(), 5)
	want := [headerSize]byte{msgDevDepOut, 1, 0xfe, 0, 5, 0, 0, 0, 1, 0, 0, 0}
	if hdr != want {
		t.Errorf("expected %v, got %v", want, hdr)
	}
}

func TestEncBulkInHeaderTerminator(t *testing.T) {
	term := byte('\n')
	hdr := encBulkInHeader(newBTagGen(), 1024, &term)
	if hdr[0] != msgRequestDevIn || hdr[8] != 0x02 || hdr[9] != '\n' {
		t.Errorf("unexpected header %v", hdr)
	}
	if hdr[4] != 0x00 || hdr[5] != 0x04 {
		t.Errorf("expected transfer size 1024 LSB first, got %v", hdr[4:8])
	}
	hdr = encBulkInHeader(newBTagGen(), 1024, nil)
	if hdr[8] != 0 || hdr[9] != 0 {
		t.Errorf("expected no terminator, got %v", hdr)
	}
}

func TestDecBulkInHeader(t *testing.T) {
	msg := []byte("+0,\"No Error\"\n")
	hdr := [headerSize]byte{msgRequestDevIn, 7, invbTag(7), 0, byte(len(msg)), 0, 0, 0, 1, 0, 0, 0}
	buf := append(hdr[:], msg...)
	buf = append(buf, 0, 0) // alignment
	data, err := decBulkInHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, msg) {
		t.Errorf("expected %q, got %q", msg, data)
	}
}

func TestDecBulkInHeaderRejects(t *testing.T) {
	if _, err := decBulkInHeader([]byte{1, 2, 3}); err == nil {
		t.Error("expected short buffer to be rejected")
	}
	bad := [headerSize]byte{msgRequestDevIn, 7, 7}
	if _, err := decBulkInHeader(bad[:]); err == nil {
		t.Error("expected mismatched bTag inverse to be rejected")
	}
}

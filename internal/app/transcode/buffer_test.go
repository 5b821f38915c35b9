package transcode

import (
	"bytes"
	"testing"
	"time"
)

func TestCapacityFor(t *testing.T) {
	if got := CapacityFor(128, 30); got != 491520 {
		t.Fatalf("CapacityFor(128, 30)=%d, want 491520", got)
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("abcde"))
	b.Write([]byte("fghij"))

	data, end := b.Snapshot()
	if string(data) != "cdefghij" {
		t.Fatalf("snapshot=%q", data)
	}
	if end != 10 || b.Len() != 8 {
		t.Fatalf("end=%d len=%d", end, b.Len())
	}

	b.Write([]byte("0123456789xyz"))
	data, _ = b.Snapshot()
	if string(data) != "56789xyz" {
		t.Fatalf("oversized write snapshot=%q", data)
	}
}

func TestBuffer_ReadFromLaggingReader(t *testing.T) {
	b := NewBuffer(4)
	b.Write([]byte("ab"))
	_, off := b.Snapshot()

	b.Write([]byte("cdefgh"))
	data, next, closed := b.ReadFrom(off)
	if string(data) != "efgh" || next != 8 || closed {
		t.Fatalf("ReadFrom=%q,%d,%v", data, next, closed)
	}

	data, _, _ = b.ReadFrom(next)
	if len(data) != 0 {
		t.Fatalf("nothing new expected, got %q", data)
	}
}

func TestBuffer_ChangedAndClose(t *testing.T) {
	b := NewBuffer(16)
	ch := b.Changed()
	go b.Write([]byte("x"))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("write did not notify")
	}

	ch = b.Changed()
	b.Close()
	b.Close()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("close did not notify")
	}
	b.Write([]byte("ignored"))
	data, _, closed := b.ReadFrom(0)
	if !closed || !bytes.Equal(data, []byte("x")) {
		t.Fatalf("after close data=%q closed=%v", data, closed)
	}
}

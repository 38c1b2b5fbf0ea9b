package bufpool

import "testing"

func TestGetPut(t *testing.T) {
	p := New(4096)
	buf := p.Get()
	if len(buf) != 4096 {
		t.Fatalf("got buffer of %d bytes", len(buf))
	}
	p.Put(buf)
	if got := p.Get(); len(got) != 4096 {
		t.Fatalf("reused buffer of %d bytes", len(got))
	}
	if p.Size() != 4096 {
		t.Fatalf("size %d", p.Size())
	}
}

func TestPutUndersized(t *testing.T) {
	p := New(4096)
	p.Put(make([]byte, 16))
	if got := p.Get(); len(got) != 4096 {
		t.Fatalf("got buffer of %d bytes after undersized Put", len(got))
	}
}

func TestNewPanicsOnBadSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(0)
}

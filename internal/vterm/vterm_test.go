package vterm

import (
	"strings"
	"testing"
)

func TestWriteAndGetViewport(t *testing.T) {
	e := New(20, 5, 100)
	defer e.Close()

	e.Write([]byte("hello"))
	viewport := e.GetViewport()
	if !strings.Contains(viewport, "hello") {
		t.Fatalf("expected viewport to contain written text, got %q", viewport)
	}
}

func TestDimensionsAndResize(t *testing.T) {
	e := New(80, 24, 100)
	defer e.Close()

	cols, rows := e.Dimensions()
	if cols != 80 || rows != 24 {
		t.Fatalf("unexpected initial dimensions: %dx%d", cols, rows)
	}

	e.Resize(100, 30)
	cols, rows = e.Dimensions()
	if cols != 100 || rows != 30 {
		t.Fatalf("resize did not update dimensions: %dx%d", cols, rows)
	}
}

func TestGetCursorWithinBounds(t *testing.T) {
	e := New(40, 10, 100)
	defer e.Close()

	e.Write([]byte("abc"))
	c := e.GetCursor()
	if c.X < 0 || c.X >= 40 || c.Y < 0 || c.Y >= 10 {
		t.Fatalf("cursor out of bounds: %+v", c)
	}
}

func TestClearResetsScrollback(t *testing.T) {
	e := New(20, 3, 50)
	defer e.Close()

	for i := 0; i < 10; i++ {
		e.Write([]byte("line\r\n"))
	}
	e.Clear()
	if e.ScrollbackLen() != 0 {
		t.Fatalf("expected scrollback cleared, got len %d", e.ScrollbackLen())
	}
}

func TestGetFullContentTrimsTrailingEmptyLines(t *testing.T) {
	e := New(20, 5, 50)
	defer e.Close()

	e.Write([]byte("content"))
	full := e.GetFullContent()
	if strings.HasSuffix(full, "\n\n\n") {
		t.Fatalf("expected trailing empty lines trimmed, got %q", full)
	}
	if !strings.Contains(full, "content") {
		t.Fatalf("expected full content to include written text, got %q", full)
	}
}

package filestore

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteAll("sub/dir/file.bin", []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	got, err := fs.ReadAll("sub/dir/file.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("got %v", got)
	}
	if !fs.Exists("sub/dir/file.bin") {
		t.Fatal("expected file to exist")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.ReadAll("../../etc/passwd"); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestSizeAndDelete(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteAll("f.bin", []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	sz, err := fs.Size("f.bin")
	if err != nil || sz != 4 {
		t.Fatalf("size=%d err=%v", sz, err)
	}
	if err := fs.DeleteFile("f.bin"); err != nil {
		t.Fatal(err)
	}
	if fs.Exists("f.bin") {
		t.Fatal("expected file to be gone")
	}
}

func TestAppendAndReplace(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fs.WriteAll("a.bin", []byte("hello"))
	fs.WriteAll("b.bin", []byte(" world"))
	if err := fs.Append("a.bin", "b.bin"); err != nil {
		t.Fatal(err)
	}
	got, _ := fs.ReadAll("a.bin")
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}

	fs.WriteAll("c.bin", []byte("replacement"))
	if err := fs.Replace("a.bin", "c.bin"); err != nil {
		t.Fatal(err)
	}
	got, _ = fs.ReadAll("a.bin")
	if string(got) != "replacement" {
		t.Fatalf("got %q", got)
	}
}

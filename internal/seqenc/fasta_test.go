package seqenc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFASTAFirstRecord(t *testing.T) {
	in := strings.NewReader(">org1 Escherichia coli\nACGT\nACGT\n>org2\nTTTT\n")
	header, seq, err := ReadFASTA(in)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if header != "org1 Escherichia coli" {
		t.Fatalf("header: got=%q", header)
	}
	if seq != "ACGTACGT" {
		t.Fatalf("seq: got=%q want=ACGTACGT", seq)
	}
}

func TestReadFASTASkipsBlankLines(t *testing.T) {
	in := strings.NewReader(">h\n\nAC\n\nGT\n")
	_, seq, err := ReadFASTA(in)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if seq != "ACGT" {
		t.Fatalf("seq: got=%q want=ACGT", seq)
	}
}

func TestReadFASTAHeaderlessSequence(t *testing.T) {
	in := strings.NewReader("ACGT\nACGT\n")
	header, seq, err := ReadFASTA(in)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if header != "" {
		t.Fatalf("header: got=%q want empty", header)
	}
	if seq != "ACGTACGT" {
		t.Fatalf("seq: got=%q want=ACGTACGT", seq)
	}
}

func TestReadFASTAEmptyStream(t *testing.T) {
	header, seq, err := ReadFASTA(strings.NewReader(""))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if header != "" || seq != "" {
		t.Fatalf("expected empty record, got header=%q seq=%q", header, seq)
	}
}

func TestReadFASTAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genome.fna")
	if err := os.WriteFile(path, []byte(">g1\nGGCC\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	header, seq, err := ReadFASTAFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if header != "g1" || seq != "GGCC" {
		t.Fatalf("unexpected record: header=%q seq=%q", header, seq)
	}

	if _, _, err := ReadFASTAFile(filepath.Join(t.TempDir(), "missing.fna")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

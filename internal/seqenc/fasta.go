package seqenc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadFASTA reads the first record from a FASTA stream. The header is the
// text after the leading '>' with surrounding whitespace removed; sequence
// lines are concatenated with blank lines skipped. A stream with no header
// line is treated as a bare sequence with an empty header. Reading stops at
// the start of a second record.
func ReadFASTA(r io.Reader) (header, seq string, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 64<<20)

	var sawHeader bool
	var body strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if sawHeader || body.Len() > 0 {
				break
			}
			header = strings.TrimSpace(line[1:])
			sawHeader = true
			continue
		}
		body.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("read fasta: %w", err)
	}
	return header, body.String(), nil
}

// ReadFASTAFile reads the first FASTA record from a file on disk.
func ReadFASTAFile(path string) (header, seq string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open fasta %s: %w", path, err)
	}
	defer f.Close()
	return ReadFASTA(f)
}

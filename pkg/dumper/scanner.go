package dumper

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// StatementScanner splits a dump script into executable statements.
//
// Lines starting with "--" and blank lines are dropped. A statement ends on
// the first line whose trimmed text ends with the current delimiter.
// DELIMITER lines switch the delimiter and are never executed; statements
// closed by a custom delimiter are returned without it.
type StatementScanner struct {
	r         *bufio.Reader
	delimiter string
	buf       strings.Builder
	stmt      string
	err       error
	done      bool
}

func NewStatementScanner(r io.Reader) *StatementScanner {
	return &StatementScanner{r: bufio.NewReaderSize(r, 64*1024), delimiter: ";"}
}

// Scan advances to the next statement.
func (s *StatementScanner) Scan() bool {
	for !s.done {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
				return false
			}
			s.done = true
		}
		if line == "" {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if s.buf.Len() == 0 && isDelimiterLine(trimmed) {
			if d := strings.TrimSpace(trimmed[len("DELIMITER"):]); d != "" {
				s.delimiter = d
			}
			continue
		}

		s.buf.WriteString(line)
		if !strings.HasSuffix(trimmed, s.delimiter) {
			continue
		}

		stmt := strings.TrimSpace(s.buf.String())
		s.buf.Reset()
		if s.delimiter != ";" {
			stmt = strings.TrimSpace(strings.TrimSuffix(stmt, s.delimiter))
		}
		if stmt == "" {
			continue
		}
		s.stmt = stmt
		return true
	}
	return false
}

func (s *StatementScanner) Statement() string { return s.stmt }

func (s *StatementScanner) Err() error { return s.err }

// Pending returns buffered text that never reached a delimiter.
func (s *StatementScanner) Pending() string {
	return strings.TrimSpace(s.buf.String())
}

func isDelimiterLine(trimmed string) bool {
	return len(trimmed) > len("DELIMITER") &&
		strings.EqualFold(trimmed[:len("DELIMITER")], "DELIMITER") &&
		(trimmed[len("DELIMITER")] == ' ' || trimmed[len("DELIMITER")] == '\t')
}

// Package linestore reads and rewrites a line-oriented todo.txt file.
//
// The file is the single source of truth: nothing is cached between calls,
// every operation re-reads the file from disk.
//
// Single-line replace and delete use a temp-file protocol. The whole file is
// copied to <path>.tmp with the target line substituted or omitted, the temp
// file is synced, and then renamed over the original. Lines other than the
// target are copied byte for byte and keep their order.
package linestore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mschirtzinger/todosync/internal/schema"
)

// TempSuffix is appended to the file path to name the staging file.
const TempSuffix = ".tmp"

// NoMatch is the position returned when no line satisfied a Matcher.
const NoMatch = -1

var (
	// ErrStorageUnavailable is returned when the file (or its staging file)
	// cannot be opened in the required mode.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMultiline is returned when text to be written contains a line break.
	ErrMultiline = errors.New("text contains a line break")
)

// Matcher selects the line an operation targets.
type Matcher func(line schema.LineRecord) bool

// Store provides line-level access to one file.
type Store struct {
	path string
}

// New creates a Store for the file at path. The file does not need to exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// TempPath returns the staging file used by rewrites.
func (s *Store) TempPath() string {
	return s.path + TempSuffix
}

// ReadAll returns every line of the file in order.
// An empty file yields an empty slice; a missing trailing newline is fine.
func (s *Store) ReadAll() ([]schema.LineRecord, error) {
	// #nosec G304 - path comes from configuration
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, s.path, err)
	}
	defer f.Close()

	lines := []schema.LineRecord{}
	err = eachLine(f, func(line schema.LineRecord) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return lines, nil
}

// CountLines returns the number of lines ReadAll would return.
// A missing file counts as empty.
func (s *Store) CountLines() (int, error) {
	n, _, err := s.tail()
	return n, err
}

// Append writes text as a new last line and returns its position.
// The file is created if it does not exist. Existing content is never
// truncated; if the last line lacks a newline one is added first.
func (s *Store) Append(text string) (int, error) {
	if strings.ContainsAny(text, "\r\n") {
		return NoMatch, fmt.Errorf("cannot append %q: %w", text, ErrMultiline)
	}

	count, terminated, err := s.tail()
	if err != nil {
		return NoMatch, err
	}

	// #nosec G304 - path comes from configuration
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return NoMatch, fmt.Errorf("%w: open %s for append: %w", ErrStorageUnavailable, s.path, err)
	}

	var b strings.Builder
	if !terminated {
		b.WriteByte('\n')
	}
	b.WriteString(text)
	b.WriteByte('\n')

	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return NoMatch, fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return NoMatch, fmt.Errorf("failed to close %s: %w", s.path, err)
	}

	return count, nil
}

// ReplaceLine substitutes text for the first line accepted by match and
// returns that line's position. When nothing matches the file is left
// untouched and NoMatch is returned.
func (s *Store) ReplaceLine(match Matcher, text string) (int, error) {
	if strings.ContainsAny(text, "\r\n") {
		return NoMatch, fmt.Errorf("cannot write %q: %w", text, ErrMultiline)
	}
	return s.rewrite(match, &text)
}

// DeleteLine removes the first line accepted by match and returns its
// former position, or NoMatch if no line matched.
func (s *Store) DeleteLine(match Matcher) (int, error) {
	return s.rewrite(match, nil)
}

// StaleTemp reports whether a staging file from an interrupted rewrite
// is still present next to the file.
func (s *Store) StaleTemp() bool {
	_, err := os.Stat(s.TempPath())
	return err == nil
}

// rewrite copies the file to the staging path, substituting replacement for
// the first matching line (or dropping it when replacement is nil), and then
// renames the staging file over the original.
func (s *Store) rewrite(match Matcher, replacement *string) (int, error) {
	// #nosec G304 - path comes from configuration
	src, err := os.Open(s.path)
	if err != nil {
		return NoMatch, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, s.path, err)
	}
	defer src.Close()

	perm := os.FileMode(0644)
	if info, err := src.Stat(); err == nil {
		perm = info.Mode().Perm()
	}

	tmpPath := s.TempPath()
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return NoMatch, fmt.Errorf("%w: open temporary file %s: %w", ErrStorageUnavailable, tmpPath, err)
	}

	matched := NoMatch
	w := bufio.NewWriter(tmp)
	err = eachLine(src, func(line schema.LineRecord) error {
		if matched == NoMatch && match(line) {
			matched = line.Position
			if replacement == nil {
				return nil
			}
			_, err := w.WriteString(*replacement + "\n")
			return err
		}
		_, err := w.WriteString(line.Content + "\n")
		return err
	})
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return NoMatch, fmt.Errorf("failed to rewrite %s: %w", s.path, err)
	}

	if matched == NoMatch {
		_ = os.Remove(tmpPath)
		return NoMatch, nil
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return NoMatch, fmt.Errorf("failed to move %s into place: %w", tmpPath, err)
	}

	return matched, nil
}

// tail returns the line count and whether the file ends with a newline.
// A missing or empty file reports (0, true).
func (s *Store) tail() (int, bool, error) {
	// #nosec G304 - path comes from configuration
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, s.path, err)
	}
	defer f.Close()

	count := 0
	terminated := true
	err = eachLine(f, func(line schema.LineRecord) error {
		count++
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	if count > 0 {
		info, err := f.Stat()
		if err != nil {
			return 0, false, fmt.Errorf("failed to stat %s: %w", s.path, err)
		}
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err != nil {
			return 0, false, fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		terminated = last[0] == '\n'
	}
	return count, terminated, nil
}

// eachLine calls fn for every line of r. Only the trailing "\n" is stripped,
// so a carriage return written by another editor is preserved on rewrite.
func eachLine(r io.Reader, fn func(schema.LineRecord) error) error {
	br := bufio.NewReader(r)
	pos := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if fnErr := fn(schema.LineRecord{Position: pos, Content: strings.TrimSuffix(line, "\n")}); fnErr != nil {
				return fnErr
			}
			pos++
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Package source manages the current scan buffer and the stack of suspended
// include frames that the lexer pushes to and pops from while processing
// /include/ tokens.
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aledsdavies/dts/pkgs/dterror"
)

// Frame is a suspended (filename, line, contents, offset) tuple, pushed when
// entering an /include/d file and popped when that file is exhausted.
type Frame struct {
	Filename string
	Line     int
	Contents string
	Offset   int
}

// Stack holds the file currently being scanned plus the suspended frames of
// its ancestors in the include chain.
type Stack struct {
	Filename string
	Line     int
	Contents string
	Offset   int

	frames       []Frame
	includePaths []string

	// read is the filesystem hook; overridable in tests.
	read func(name string) ([]byte, error)
}

// New creates a Stack positioned at the start of the root file. filename "-"
// reads the whole of stdin as the root buffer.
func New(filename string, includePaths []string) (*Stack, error) {
	s := &Stack{includePaths: includePaths, read: defaultRead}
	data, err := s.read(filename)
	if err != nil {
		return nil, dterror.Wrap(dterror.CodeIO, fmt.Sprintf("cannot read %q", filename), err)
	}
	s.Filename = filename
	s.Contents = string(data)
	s.Line = 1
	return s, nil
}

func defaultRead(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

// EnterInclude resolves raw (the unescaped text of an /include/ filename),
// detects cycles against the current stack, pushes the current position, and
// repositions the Stack at the start of the included file.
func (s *Stack) EnterInclude(raw string) error {
	resolved, data, err := s.resolve(raw)
	if err != nil {
		return err
	}

	for i, f := range append([]Frame{{Filename: s.Filename, Line: s.Line, Contents: s.Contents, Offset: s.Offset}}, s.frames...) {
		if f.Filename == resolved {
			chain := []string{fmt.Sprintf("%s:%d", f.Filename, f.Line)}
			for _, p := range append([]Frame{{Filename: s.Filename, Line: s.Line, Contents: s.Contents, Offset: s.Offset}}, s.frames...)[i:] {
				chain = append(chain, fmt.Sprintf("%s:%d", p.Filename, p.Line))
			}
			return dterror.New(dterror.CodeInclude, "recursive /include/:\n"+strings.Join(chain, " ->\n")+" ->\n"+resolved)
		}
	}

	s.frames = append(s.frames, Frame{
		Filename: s.Filename,
		Line:     s.Line,
		Contents: s.Contents,
		Offset:   s.Offset,
	})

	s.Filename = resolved
	s.Contents = string(data)
	s.Line = 1
	s.Offset = 0
	return nil
}

// LeaveFile pops the most recently suspended frame, restoring the including
// file's position. It returns false when the stack is already empty, meaning
// EOF is the real end of input.
func (s *Stack) LeaveFile() bool {
	if len(s.frames) == 0 {
		return false
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	s.Filename = top.Filename
	s.Line = top.Line
	s.Contents = top.Contents
	s.Offset = top.Offset
	return true
}

// SetLine applies a #line directive: it changes the reported filename and
// line number without touching the scan buffer or offset.
func (s *Stack) SetLine(line int, filename string) {
	s.Line = line
	s.Filename = filename
}

// ReadRelative reads filename using the same resolution order as
// EnterInclude (current file's directory, then each include path) without
// altering the Stack's position. Used by /incbin/.
func (s *Stack) ReadRelative(filename string) ([]byte, error) {
	_, data, err := s.resolve(filename)
	return data, err
}

// resolve looks up filename relative to the current file's directory first,
// then each configured include path in order. "-" denotes stdin.
func (s *Stack) resolve(filename string) (resolvedName string, data []byte, err error) {
	if filename == "-" {
		data, err = s.read("-")
		if err != nil {
			return "", nil, dterror.Wrap(dterror.CodeIO, "cannot read stdin", err)
		}
		return "-", data, nil
	}

	if filepath.IsAbs(filename) {
		if data, err = s.read(filename); err == nil {
			return filename, data, nil
		}
		return "", nil, dterror.Wrap(dterror.CodeIO, fmt.Sprintf("cannot find %q", filename), err)
	}

	candidates := make([]string, 0, len(s.includePaths)+1)
	candidates = append(candidates, filepath.Join(filepath.Dir(s.Filename), filename))
	for _, p := range s.includePaths {
		candidates = append(candidates, filepath.Join(p, filename))
	}

	var lastErr error
	for _, c := range candidates {
		data, lastErr = s.read(c)
		if lastErr == nil {
			return c, data, nil
		}
		if !os.IsNotExist(lastErr) {
			return "", nil, dterror.Wrap(dterror.CodeIO, fmt.Sprintf("cannot read %q", c), lastErr)
		}
	}
	return "", nil, dterror.New(dterror.CodeInclude, fmt.Sprintf("%q not found in include path", filename))
}

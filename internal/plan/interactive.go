package plan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Interactive prompts for each record on w and reads answers from r.
// Out-of-range answers are rejected and asked again.
func Interactive(r io.Reader, w io.Writer) (*ChipPlan, error) {
	p := &prompter{in: bufio.NewScanner(r), out: w}

	n, err := p.int("Number of chips", func(v int) bool { return v >= 1 && v <= MaxColumn*MaxRow })
	if err != nil {
		return nil, err
	}

	records := make([]ChipPosition, 0, n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(w, "Chip %d of %d\n", i+1, n)

		var pos ChipPosition
		if pos.Tray, err = p.int("  Tray (1-2)", func(v int) bool { return validTrays[v] }); err != nil {
			return nil, err
		}
		if pos.Column, err = p.int("  Column (1-10)", func(v int) bool { return v >= 1 && v <= MaxColumn }); err != nil {
			return nil, err
		}
		if pos.Row, err = p.int("  Row (1-4)", func(v int) bool { return v >= 1 && v <= MaxRow }); err != nil {
			return nil, err
		}
		if pos.Board, err = p.int("  Board (1-2)", func(v int) bool { return validBoards[v] }); err != nil {
			return nil, err
		}
		if pos.Socket, err = p.int("  Socket (21-22)", func(v int) bool { return validSockets[v] }); err != nil {
			return nil, err
		}
		if pos.Label, err = p.str("  Label (CD0/CD1)", func(v string) bool { return validLabels[v] }); err != nil {
			return nil, err
		}
		records = append(records, pos)
	}

	return FromRecords(records)
}

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimSpace(label), err)
		}
		return "", fmt.Errorf("read %s: %w", strings.TrimSpace(label), io.ErrUnexpectedEOF)
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *prompter) int(label string, ok func(int) bool) (int, error) {
	for {
		s, err := p.line(label)
		if err != nil {
			return 0, err
		}
		v, convErr := strconv.Atoi(s)
		if convErr == nil && ok(v) {
			return v, nil
		}
		fmt.Fprintf(p.out, "Invalid value %q, try again\n", s)
	}
}

func (p *prompter) str(label string, ok func(string) bool) (string, error) {
	for {
		s, err := p.line(label)
		if err != nil {
			return "", err
		}
		if s = strings.ToUpper(s); ok(s) {
			return s, nil
		}
		fmt.Fprintf(p.out, "Invalid value %q, try again\n", s)
	}
}

// IsInputClosed reports whether err came from the input ending early.
func IsInputClosed(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF)
}

package plan

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPosition() ChipPosition {
	return ChipPosition{Tray: 1, Column: 3, Row: 2, Board: 1, Socket: 21, Label: "CD0"}
}

func TestFullTray(t *testing.T) {
	p, err := FullTray(2, 2)
	require.NoError(t, err)

	records := p.Records()
	require.Len(t, records, MaxColumn*MaxRow)

	for i, r := range records {
		assert.Equal(t, 2, r.Tray)
		assert.Equal(t, 2, r.Board)
		if i%2 == 0 {
			assert.Equal(t, 21, r.Socket, "record %d", i)
			assert.Equal(t, "CD0", r.Label, "record %d", i)
		} else {
			assert.Equal(t, 22, r.Socket, "record %d", i)
			assert.Equal(t, "CD1", r.Label, "record %d", i)
		}
	}

	assert.Equal(t, ChipPosition{Tray: 2, Column: 1, Row: 1, Board: 2, Socket: 21, Label: "CD0"}, records[0])
	assert.Equal(t, ChipPosition{Tray: 2, Column: 1, Row: 2, Board: 2, Socket: 22, Label: "CD1"}, records[1])
	assert.Equal(t, ChipPosition{Tray: 2, Column: 2, Row: 1, Board: 2, Socket: 21, Label: "CD0"}, records[4])
	assert.Equal(t, 10, records[len(records)-1].Column)
	assert.Equal(t, 4, records[len(records)-1].Row)
}

func TestFullTray_InvalidTray(t *testing.T) {
	_, err := FullTray(3, 1)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestChipPlan_Cursor(t *testing.T) {
	p, err := FullTray(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Index())

	for i := 0; i < p.Len()-1; i++ {
		require.NoError(t, p.Advance())
	}
	assert.Equal(t, p.Len()-1, p.Index())

	assert.ErrorIs(t, p.Advance(), ErrEndOfPlan)
	assert.Equal(t, p.Len()-1, p.Index())

	p.Reset()
	assert.Equal(t, 0, p.Index())
	assert.Equal(t, 1, p.Current().Column)
}

func TestChipPlan_SingleRecord(t *testing.T) {
	p, err := FromRecords([]ChipPosition{validPosition()})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Advance(), ErrEndOfPlan)
	assert.Equal(t, validPosition(), p.Current())
}

func TestFromRecords(t *testing.T) {
	_, err := FromRecords(nil)
	assert.ErrorIs(t, err, ErrEmptyPlan)

	records := []ChipPosition{validPosition(), validPosition()}
	p, err := FromRecords(records)
	require.NoError(t, err)

	records[0].Column = 9
	assert.Equal(t, 3, p.Records()[0].Column, "plan must own its records")
}

func TestChipPosition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ChipPosition)
		wantErr bool
	}{
		{"valid", func(p *ChipPosition) {}, false},
		{"tray 0", func(p *ChipPosition) { p.Tray = 0 }, true},
		{"tray 3", func(p *ChipPosition) { p.Tray = 3 }, true},
		{"column 0", func(p *ChipPosition) { p.Column = 0 }, true},
		{"column 11", func(p *ChipPosition) { p.Column = 11 }, true},
		{"column 10", func(p *ChipPosition) { p.Column = 10 }, false},
		{"row 5", func(p *ChipPosition) { p.Row = 5 }, true},
		{"board 3", func(p *ChipPosition) { p.Board = 3 }, true},
		{"socket 23", func(p *ChipPosition) { p.Socket = 23 }, true},
		{"socket 22", func(p *ChipPosition) { p.Socket = 22 }, false},
		{"label", func(p *ChipPosition) { p.Label = "A" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPosition()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPosition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChipPlan_LockedUpdate(t *testing.T) {
	p, err := FullTray(1, 1)
	require.NoError(t, err)

	pos := validPosition()
	require.NoError(t, p.Update(0, pos))
	assert.Equal(t, pos, p.Records()[0])

	assert.Error(t, p.Update(99, pos))

	p.Lock()
	assert.True(t, p.Locked())
	assert.ErrorIs(t, p.Update(0, pos), ErrPlanLocked)

	require.NoError(t, p.Advance(), "cursor still moves after lock")
}

func TestLoadAndSaveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	content := `chips:
  - tray: 1
    column: 1
    row: 1
    board: 1
    socket: 21
    label: CD0
  - tray: 2
    column: 10
    row: 4
    board: 2
    socket: 22
    label: CD1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
	assert.Equal(t, 10, p.Records()[1].Column)

	out := filepath.Join(dir, "copy.yaml")
	require.NoError(t, SaveFile(out, p))

	again, err := LoadFile(out)
	require.NoError(t, err)
	assert.Equal(t, p.Records(), again.Records())
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chips:\n  - tray: 5\n"), 0o644))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalidPosition)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestInteractive(t *testing.T) {
	input := strings.Join([]string{
		"1",
		"3", "1", // bad tray, then good
		"11", "10",
		"4",
		"2",
		"20", "22",
		"cd1",
	}, "\n") + "\n"

	var out bytes.Buffer
	p, err := Interactive(strings.NewReader(input), &out)
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())

	assert.Equal(t, ChipPosition{Tray: 1, Column: 10, Row: 4, Board: 2, Socket: 22, Label: "CD1"}, p.Current())
	assert.Contains(t, out.String(), "Invalid value \"3\"")
	assert.Contains(t, out.String(), "Invalid value \"20\"")
}

func TestInteractive_InputEndsEarly(t *testing.T) {
	_, err := Interactive(strings.NewReader("2\n1\n"), &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, IsInputClosed(err))
}

func TestBuild(t *testing.T) {
	p, err := Build(Source{Mode: ModeFull, Tray: 2, Board: 2})
	require.NoError(t, err)
	assert.Equal(t, MaxColumn*MaxRow, p.Len())

	_, err = Build(Source{Mode: "bogus"})
	assert.Error(t, err)
}

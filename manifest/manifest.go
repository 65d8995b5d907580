// Package manifest builds datasets from a worklist spreadsheet. The
// clinicians keep an xlsx file listing the recordings a study needs
// and the folder each should land in; this package parses the sheet,
// hunts the recordings down across the archive shares, and plans the
// anonymised copy into the dataset tree.
package manifest

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// The worksheet holding the export list. Columns from "Paths" up to
// "Files" are dataset folders, columns from "Files" on are recording
// stems; rows pair them up per patient.
const exportSheet = "to_export"

// An Entry is one requested recording: the stem to search for and the
// dataset folder it belongs in. An empty Dest puts the recording at
// the top of the dataset.
type Entry struct {
	Stem string
	Dest string
}

// A Worklist is the parsed export sheet.
type Worklist struct {
	Entries []Entry
}

// ReadWorklist parses the export sheet of the given xlsx file.
//
// Each row may name several recordings. A recording takes the folder
// in its own Paths column when one is filled in, and otherwise falls
// back to the last filled folder of its row, so a row with one folder
// and four recordings puts all four in that folder.
func ReadWorklist(path string) (Worklist, error) {
	var w Worklist
	f, err := excelize.OpenFile(path)
	if err != nil {
		return w, errors.Wrapf(err, "opening worklist %s", path)
	}
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		return w, errors.Wrapf(err, "reading sheet %s", exportSheet)
	}
	if len(rows) == 0 {
		return w, errors.Errorf("worklist %s: sheet %s is empty", path, exportSheet)
	}
	header := rows[0]
	pathsAt := columnIndex(header, "Paths")
	filesAt := columnIndex(header, "Files")
	if pathsAt == -1 || filesAt == -1 || filesAt < pathsAt {
		return w, errors.Errorf("worklist %s: sheet %s needs Paths and Files columns", path, exportSheet)
	}
	for _, row := range rows[1:] {
		dests := sliceCells(row, pathsAt, filesAt)
		stems := sliceCells(row, filesAt, len(header))
		fallback := lastFilled(dests)
		for i, stem := range stems {
			if stem == "" {
				continue
			}
			dest := fallback
			if i < len(dests) && dests[i] != "" {
				dest = dests[i]
			}
			w.Entries = append(w.Entries, Entry{
				Stem: stem,
				Dest: cleanDest(dest),
			})
		}
	}
	return w, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// sliceCells returns cells [from,to) of the row. Rows come back
// truncated at their last filled cell, so missing cells read as empty.
func sliceCells(row []string, from, to int) []string {
	result := make([]string, to-from)
	for i := from; i < to; i++ {
		if i < len(row) {
			result[i-from] = strings.TrimSpace(row[i])
		}
	}
	return result
}

func lastFilled(cells []string) string {
	var result string
	for _, c := range cells {
		if c != "" {
			result = c
		}
	}
	return result
}

// cleanDest normalises a folder cell. Sheets written on the vendor's
// Windows stations use backslashes.
func cleanDest(dest string) string {
	dest = strings.ReplaceAll(dest, "\\", "/")
	return strings.Trim(dest, "/")
}

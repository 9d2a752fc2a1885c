package table

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

const (
	TimeLayout   = "2006-01-02 15:04:05"
	NoDataMarker = "NA"
)

// WriteDelimited writes a header row "ob_time<sep>src_id<sep><elements...>"
// followed by one line per row. Output depends only on the table contents.
func (t *Table) WriteDelimited(w io.Writer, sep rune) error {
	bw := bufio.NewWriter(w)
	s := string(sep)

	bw.WriteString("ob_time")
	bw.WriteString(s)
	bw.WriteString("src_id")
	for _, e := range t.elements {
		bw.WriteString(s)
		bw.WriteString(e)
	}
	bw.WriteByte('\n')

	var num []byte
	for i := range t.times {
		bw.WriteString(t.times[i].Format(TimeLayout))
		bw.WriteString(s)
		bw.WriteString(strconv.Itoa(t.stations[i]))
		for c := range t.cols {
			bw.WriteString(s)
			v := t.cols[c][i]
			if !v.Valid {
				bw.WriteString(NoDataMarker)
				continue
			}
			num = strconv.AppendFloat(num[:0], v.V, 'f', -1, 64)
			bw.Write(num)
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}

// ToDelimited writes the comma-separated export to path. The file appears
// complete or not at all.
func (t *Table) ToDelimited(fs afero.Fs, path string) error {
	return t.ToDelimitedSep(fs, path, ',')
}

func (t *Table) ToDelimitedSep(fs afero.Fs, path string, sep rune) error {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	f, err := afero.TempFile(fs, filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()
	if err := t.WriteDelimited(f, sep); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	_ = fs.Chmod(path, 0o644)
	return nil
}

// MarshalJSON encodes the table as a list of row objects. No-data cells are
// null.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := range t.times {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"ob_time":`)
		buf.WriteString(strconv.Quote(t.times[i].Format(TimeLayout)))
		buf.WriteString(`,"src_id":`)
		buf.WriteString(strconv.Itoa(t.stations[i]))
		for c, e := range t.elements {
			name, err := json.Marshal(e)
			if err != nil {
				return nil, err
			}
			buf.WriteByte(',')
			buf.Write(name)
			buf.WriteByte(':')
			v := t.cols[c][i]
			if !v.Valid {
				buf.WriteString("null")
				continue
			}
			buf.WriteString(strconv.FormatFloat(v.V, 'f', -1, 64))
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

package sources

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"specklerec/internal/models"
	"specklerec/pkg/errs"
)

// tableHeader names the columns of a star table
const tableHeader = "x y flux"

// WriteTable writes sources as a whitespace separated "x y flux" table
func WriteTable(w io.Writer, stars []models.Source) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, tableHeader)
	for _, s := range stars {
		fmt.Fprintf(bw, "%.3f %.3f %.6g\n", s.X, s.Y, s.Flux)
	}
	return errors.Wrap(bw.Flush(), "error writing star table")
}

// ReadTable parses a star table. Blank lines, lines starting with '#' and a
// header line are skipped; the flux column is optional.
func ReadTable(r io.Reader) ([]models.Source, error) {
	const op = "read star table"
	var stars []models.Source

	scanner := bufio.NewScanner(r)
	line := 0
	header := true
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, errs.New(errs.InvalidArgument, op, "line %d: expected x and y, got %q", line, text)
		}
		values := make([]float64, 0, 3)
		var parseErr error
		for _, f := range fields[:min(len(fields), 3)] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				parseErr = err
				break
			}
			values = append(values, v)
		}
		if parseErr != nil {
			if header {
				header = false
				continue
			}
			return nil, errs.Wrap(errs.InvalidArgument, op, parseErr, fmt.Sprintf("line %d", line))
		}
		header = false
		s := models.Source{X: values[0], Y: values[1]}
		if len(values) == 3 {
			s.Flux = values[2]
		}
		stars = append(stars, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading star table")
	}
	return stars, nil
}

// LoadTable reads a star table from a file
func LoadTable(path string) ([]models.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening star table %s", path)
	}
	defer f.Close()
	return ReadTable(f)
}

// SaveTable writes a star table to a file
func SaveTable(path string, stars []models.Source) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating star table %s", path)
	}
	if err := WriteTable(f, stars); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "error closing star table %s", path)
}

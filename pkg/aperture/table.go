package aperture

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// WriteEncircledEnergy writes a "radius energy" table of the integrated
// aperture
func (a *Aperture) WriteEncircledEnergy(w io.Writer) error {
	radii, energy := a.EncircledEnergy()

	bw := bufio.NewWriter(w)
	a.writeComment(bw)
	fmt.Fprintln(bw, "radius energy")
	for i := range radii {
		fmt.Fprintf(bw, "%.4f %.6g\n", radii[i], energy[i])
	}
	return errors.Wrap(bw.Flush(), "error writing encircled energy")
}

// WriteProfile writes the radial profile as "radius mean std". With more than
// one frame the temporal variance profile is appended as "var_mean var_std".
func (a *Aperture) WriteProfile(w io.Writer) error {
	radii, mean, std := a.Profile()
	var varMean, varStd []float64
	if a.Len() > 1 {
		var err error
		if _, varMean, varStd, err = a.VarianceProfile(); err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	a.writeComment(bw)
	if varMean != nil {
		fmt.Fprintln(bw, "radius mean std var_mean var_std")
	} else {
		fmt.Fprintln(bw, "radius mean std")
	}
	for i := range radii {
		fmt.Fprintf(bw, "%.4f %.6g %.6g", radii[i], mean[i], std[i])
		if varMean != nil {
			fmt.Fprintf(bw, " %.6g %.6g", varMean[i], varStd[i])
		}
		fmt.Fprintln(bw)
	}
	return errors.Wrap(bw.Flush(), "error writing aperture profile")
}

func (a *Aperture) writeComment(w io.Writer) {
	cy, cx := a.Center()
	fmt.Fprintf(w, "# centre y=%d x=%d radius=%d frames=%d\n", cy, cx, a.Radius(), a.Len())
}

// SaveEncircledEnergy writes the encircled energy table to a file
func (a *Aperture) SaveEncircledEnergy(path string) error {
	return saveTable(path, a.WriteEncircledEnergy)
}

// SaveProfile writes the profile table to a file
func (a *Aperture) SaveProfile(path string) error {
	return saveTable(path, a.WriteProfile)
}

func saveTable(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "error closing %s", path)
}

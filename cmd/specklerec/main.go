package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pbnjay/memory"
	"github.com/pkg/profile"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/models"
	"specklerec/internal/store"
	"specklerec/pkg/aperture"
	"specklerec/pkg/config"
	"specklerec/pkg/holography"
	"specklerec/pkg/logger"
	"specklerec/pkg/reconstruction"
	"specklerec/pkg/sources"
	"specklerec/pkg/visualization"
)

const usage = `usage: specklerec <command> [flags]

commands:
  ssa          shift-and-add reconstruction of speckle cubes
  holography   speckle holography seeded with an SSA reconstruction
  aperture     encircled energy and radial profile of a star in every cube
  init-config  write a default configuration file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "ssa":
		err = runSSA(os.Args[2:])
	case "holography":
		err = runHolography(os.Args[2:])
	case "aperture":
		err = runAperture(os.Args[2:])
	case "init-config":
		err = runInitConfig(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	out := fs.String("o", "specklerec.yaml", "Path of the configuration file to write")
	fs.Parse(args)

	if err := config.CreateDefaultConfigFile(*out); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", *out)
	return nil
}

// setup loads the configuration and the input cubes shared by all commands
func setup(fs *flag.FlagSet, configPath string) (*config.Config, logger.ILogger, []models.Cube, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	level := logger.LogInfo
	if cfg.Options.Verbose {
		level = logger.LogDebug
	}
	l := logger.NewStdOutLogger(level)

	files := fs.Args()
	if len(files) == 0 {
		files = cfg.Paths.Files
	}
	if len(files) == 0 {
		if files, err = store.ListCubes(cfg.Paths.InDir); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(files) == 0 {
		return nil, nil, nil, fmt.Errorf("no input cubes found in %s", cfg.Paths.InDir)
	}

	l.Infof("Loading %d cubes", len(files))
	cubes, err := store.LoadCubes(files, cfg.Options.VarianceExtensionName)
	if err != nil {
		return nil, nil, nil, err
	}
	checkMemory(l, cubes)
	return cfg, l, cubes, nil
}

var totalMiBs = memory.TotalMemory() / 1024 / 1024

// checkMemory warns when the loaded cubes, held twice during padding, come
// close to the physical memory of the machine
func checkMemory(l logger.ILogger, cubes []models.Cube) {
	var values uint64
	for _, c := range cubes {
		rows, cols := c.Shape()
		values += uint64((c.Len() + len(c.Variance)) * rows * cols)
	}
	neededMiBs := 2 * values * 8 / 1024 / 1024
	l.Debugf("Cubes need about %d MiB of %d MiB physical memory", neededMiBs, totalMiBs)
	if totalMiBs > 0 && neededMiBs > totalMiBs*3/4 {
		l.Errorf("Cubes need about %d MiB, close to the %d MiB of physical memory", neededMiBs, totalMiBs)
	}
}

func runSSA(args []string) error {
	fs := flag.NewFlagSet("ssa", flag.ExitOnError)
	configPath := fs.String("config", "specklerec.yaml", "Configuration file")
	profileKind := fs.String("profile", "", "Write a cpu or mem profile to the temporary directory")
	fs.Parse(args)

	cfg, l, cubes, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	stopProfile, err := startProfile(*profileKind, cfg.Paths.TmpDir)
	if err != nil {
		return err
	}
	defer stopProfile()

	params, err := cfg.ReconstructionParams()
	if err != nil {
		return err
	}

	fmt.Println("================================")
	fmt.Println("SPECKLE SHIFT-AND-ADD RECONSTRUCTION")
	fmt.Println("================================")

	startTime := time.Now()
	result, err := reconstruction.NewReconstructor(params, l).Run(cubes)
	if err != nil {
		return err
	}

	if err := saveLongExposures(cfg, cubes, result.LongExposures); err != nil {
		return err
	}
	cards := []fitsio.Card{
		{Name: "RECMODE", Value: params.Mode.String(), Comment: "reconstruction canvas"},
		{Name: "ALIGNMTH", Value: string(params.Method), Comment: "long exposure method"},
		{Name: "NCUBES", Value: len(cubes), Comment: "number of input cubes"},
		{Name: "REFCUBE", Value: cubes[result.ReferenceIndex].Name, Comment: "alignment reference"},
	}
	if err := store.SaveImage(cfg.Paths.OutFile, result.Image, result.Variance, cfg.Options.VarianceExtensionName, cards); err != nil {
		return err
	}
	if err := savePreview(cfg, result.Image); err != nil {
		return err
	}

	fmt.Printf("\nReconstruction completed successfully in %.2f seconds!\n", time.Since(startTime).Seconds())
	fmt.Printf("Output image saved to: %s\n", cfg.Paths.OutFile)
	for i, s := range result.Shifts {
		fmt.Printf("- %s: shift (%d, %d)\n", cubes[i].Name, s.DY, s.DX)
	}
	return nil
}

func runHolography(args []string) error {
	fs := flag.NewFlagSet("holography", flag.ExitOnError)
	configPath := fs.String("config", "specklerec.yaml", "Configuration file")
	iterations := fs.Int("iterations", 0, "Number of iterations (overrides the configuration)")
	interactive := fs.Bool("interactive", false, "Select reference stars and continuation interactively")
	profileKind := fs.String("profile", "", "Write a cpu or mem profile to the temporary directory")
	fs.Parse(args)

	cfg, l, cubes, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	stopProfile, err := startProfile(*profileKind, cfg.Paths.TmpDir)
	if err != nil {
		return err
	}
	defer stopProfile()

	if *iterations > 0 {
		cfg.Holography.Iterations = *iterations
	}
	if *interactive {
		cfg.Holography.Interactive = true
	}
	params, err := cfg.HolographyParams()
	if err != nil {
		return err
	}

	finder := &sources.Finder{
		FWHM:           cfg.Starfinder.FWHM,
		NoiseThreshold: cfg.Starfinder.NoiseThreshold,
		SigmaClip:      cfg.Starfinder.SigmaClip,
		MaxSources:     cfg.Starfinder.MaxSources,
		Log:            l,
	}

	// selector and decider share one buffered stdin
	stdin := bufio.NewReader(os.Stdin)
	selector, err := newSelector(cfg, stdin)
	if err != nil {
		return err
	}
	var decider holography.Decider = holography.FixedIterations(cfg.Holography.Iterations)
	if cfg.Holography.Interactive {
		decider = &holography.PromptDecider{In: stdin, Out: os.Stdout}
	}

	loop, err := holography.NewLoop(params, finder, selector, decider, l)
	if err != nil {
		return err
	}

	fmt.Println("================================")
	fmt.Println("SPECKLE HOLOGRAPHY RECONSTRUCTION")
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	result, err := loop.Run(ctx, cubes)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Paths.TmpDir, 0755); err != nil {
		return err
	}
	seedPath := filepath.Join(cfg.Paths.TmpDir, "ssa_seed.fits")
	if err := store.SaveImage(seedPath, result.SSA, result.SSAVariance, cfg.Options.VarianceExtensionName, nil); err != nil {
		return err
	}
	cards := []fitsio.Card{
		{Name: "RECMODE", Value: params.Mode.String(), Comment: "reconstruction canvas"},
		{Name: "PSFMODE", Value: string(params.PSFMode), Comment: "PSF combination"},
		{Name: "APODTYPE", Value: string(params.Apodization), Comment: "apodization window"},
		{Name: "APODRAD", Value: params.ApodizationRadius, Comment: "apodization radius"},
		{Name: "NITER", Value: result.Iterations, Comment: "holography iterations"},
		{Name: "NREFSTAR", Value: len(result.References), Comment: "reference stars"},
	}
	if err := store.SaveImage(cfg.Paths.OutFile, result.Image, nil, "", cards); err != nil {
		return err
	}
	sourcesPath := filepath.Join(cfg.Paths.TmpDir, "final_sources.dat")
	if err := sources.SaveTable(sourcesPath, result.Sources); err != nil {
		return err
	}
	if err := savePreview(cfg, result.Image); err != nil {
		return err
	}

	fmt.Printf("\nHolography completed %d iterations in %.2f seconds!\n", result.Iterations, time.Since(startTime).Seconds())
	fmt.Printf("Output image saved to: %s\n", cfg.Paths.OutFile)
	fmt.Printf("%d sources listed in: %s\n", len(result.Sources), sourcesPath)
	return nil
}

func runAperture(args []string) error {
	fs := flag.NewFlagSet("aperture", flag.ExitOnError)
	configPath := fs.String("config", "specklerec.yaml", "Configuration file")
	y := fs.Float64("y", math.NaN(), "Row of the star in frame coordinates")
	x := fs.Float64("x", math.NaN(), "Column of the star in frame coordinates")
	radius := fs.Int("radius", 0, "Aperture radius in pixels (defaults to psfExtraction.psfRadius)")
	fs.Parse(args)

	if math.IsNaN(*y) || math.IsNaN(*x) {
		return fmt.Errorf("-y and -x are required")
	}
	cfg, l, cubes, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	if *radius <= 0 {
		*radius = cfg.PSFExtraction.PSFRadius
	}
	if err := os.MkdirAll(cfg.Paths.TmpDir, 0755); err != nil {
		return err
	}

	for _, cube := range cubes {
		a, err := analyseAperture(cube, *y, *x, *radius, cfg.Paths.TmpDir)
		if err != nil {
			return err
		}
		cy, cx := a.Center()
		l.Infof("%s: aperture recentred to (%d, %d), flux %.6g", cube.Name, cy, cx, a.Flux())
	}
	fmt.Printf("Aperture tables written to: %s\n", cfg.Paths.TmpDir)
	return nil
}

// analyseAperture recentres a circular aperture on the star near (y, x) and
// writes its encircled energy, radial profile and cutout cube into dir
func analyseAperture(cube models.Cube, y, x float64, radius int, dir string) (*aperture.Aperture, error) {
	a, err := aperture.ExtractStack(cube.Frames, y, x, radius, aperture.Options{
		Recenter:   true,
		SubsetOnly: true,
		Shape:      aperture.Circular,
	})
	if err != nil {
		return nil, err
	}

	base := filepath.Join(dir, trimExt(cube.Name))
	if err := a.SaveEncircledEnergy(base + "_encircled_energy.dat"); err != nil {
		return nil, err
	}
	if err := a.SaveProfile(base + "_profile.dat"); err != nil {
		return nil, err
	}

	cutout := models.Cube{Name: cube.Name}
	for i := 0; i < a.Len(); i++ {
		cutout.Frames = append(cutout.Frames, a.Frame(i))
	}
	cy, cx := a.Center()
	cards := []fitsio.Card{
		{Name: "APCENY", Value: cy, Comment: "aperture centre row in the cube"},
		{Name: "APCENX", Value: cx, Comment: "aperture centre column in the cube"},
		{Name: "APRAD", Value: a.Radius(), Comment: "aperture radius"},
	}
	if err := store.SaveCube(base+"_aperture.fits", cutout, "", cards); err != nil {
		return nil, err
	}
	return a, nil
}

// startProfile starts a profile of the given kind, writing into dir. An empty
// kind profiles nothing.
func startProfile(kind, dir string) (func(), error) {
	var mode func(*profile.Profile)
	switch kind {
	case "":
		return func() {}, nil
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfile
	default:
		return nil, fmt.Errorf("unknown profile kind %q, expected cpu or mem", kind)
	}
	p := profile.Start(mode, profile.ProfilePath(dir), profile.NoShutdownHook)
	return p.Stop, nil
}

// newSelector picks the reference-star selection strategy: interactive file
// editing, a fixed reference list, or the brightest detections
func newSelector(cfg *config.Config, in io.Reader) (holography.StarSelector, error) {
	if cfg.Holography.Interactive {
		return &sources.FileSelector{
			AllStarsPath: cfg.Paths.AllStarsFile,
			RefPath:      cfg.Paths.RefSourceFile,
			Tolerance:    cfg.Holography.MatchTolerance,
			In:           in,
			Out:          os.Stdout,
		}, nil
	}
	if _, err := os.Stat(cfg.Paths.RefSourceFile); err == nil {
		stars, err := sources.LoadTable(cfg.Paths.RefSourceFile)
		if err != nil {
			return nil, err
		}
		return sources.ListSelector{Stars: stars, Tolerance: cfg.Holography.MatchTolerance}, nil
	}
	return sources.BrightestSelector{N: cfg.Holography.ReferenceStars}, nil
}

// saveLongExposures keeps the per-cube long exposures in the temporary directory
func saveLongExposures(cfg *config.Config, cubes []models.Cube, images []*mat.Dense) error {
	for i, img := range images {
		path := filepath.Join(cfg.Paths.TmpDir, trimExt(cubes[i].Name)+"_long_exposure.fits")
		if err := store.SaveImage(path, img, nil, "", nil); err != nil {
			return err
		}
	}
	stretch, err := visualization.ParseStretch(cfg.Options.Stretch)
	if err != nil {
		return err
	}
	return visualization.SaveSequence(images, stretch, filepath.Join(cfg.Paths.TmpDir, "previews"), "long_exposure")
}

// savePreview renders the reconstruction when a preview file is configured
func savePreview(cfg *config.Config, img *mat.Dense) error {
	if cfg.Paths.PreviewFile == "" {
		return nil
	}
	stretch, err := visualization.ParseStretch(cfg.Options.Stretch)
	if err != nil {
		return err
	}
	preview, err := visualization.Render(img, stretch)
	if err != nil {
		return err
	}
	return visualization.Save(preview, cfg.Paths.PreviewFile)
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

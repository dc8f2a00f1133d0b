package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"tractparc/pkg/config"
	"tractparc/pkg/logging"
	"tractparc/pkg/parcellation"
	"tractparc/pkg/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errUsage reports a command line the flag package already rejected and
// explained on stderr
var errUsage = errors.New("invalid usage")

// options holds the parsed command line
type options struct {
	trackFile   string
	niftiFile   string
	outputFile  string
	configFile  string
	writeConfig string
	tracksOut   string
	slicesDir   string
	workers     int
	legacy      bool
	keepInput   bool
	verbose     bool
	logFile     string
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("tractparc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.niftiFile, "nifti", "", "NIfTI-1 image that represents the cortex parcellation [required]")
	fs.StringVar(&opts.outputFile, "output", "", "Output NIfTI-1 file; when omitted nothing is saved")
	fs.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&opts.writeConfig, "write-config", "", "Write the default configuration to FILE and exit")
	fs.StringVar(&opts.tracksOut, "tracks-out", "", "Write the voxelized fibers as a TrackVis file")
	fs.StringVar(&opts.slicesDir, "slices-dir", "", "Directory to save PNG slices of the output along all axes")
	fs.IntVar(&opts.workers, "workers", 0, "Number of goroutines resolving voxel labels (default from config)")
	fs.BoolVar(&opts.legacy, "legacy-neighbors", false, "Use the 7-voxel legacy neighborhood instead of all 26 neighbors")
	fs.BoolVar(&opts.keepInput, "keep-input", false, "Start the output from the input labels instead of zeros")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	fs.StringVar(&opts.logFile, "log-file", "", "Write log messages to FILE, rotated by size")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tractparc <trk_file> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses args, allowing options both before and after the
// positional track file
func parseArgs(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{}
	fs := newFlagSet(opts, stderr)

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, fs, err
			}
			return nil, fs, errUsage
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	if opts.writeConfig != "" {
		return opts, fs, nil
	}
	if len(positional) != 1 {
		return nil, fs, fmt.Errorf("expected exactly one track file, got %d", len(positional))
	}
	if opts.niftiFile == "" {
		return nil, fs, errors.New("-nifti is required")
	}
	if opts.workers < 0 {
		return nil, fs, fmt.Errorf("-workers must be non-negative, got %d", opts.workers)
	}
	opts.trackFile = positional[0]
	return opts, fs, nil
}

// loadConfig reads the configuration file and applies command line overrides
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		// LoadConfig falls back to defaults for a missing file; a path given
		// on the command line must exist
		if _, err := os.Stat(opts.configFile); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		var err error
		if cfg, err = config.LoadConfig(opts.configFile); err != nil {
			return nil, err
		}
	}
	if opts.workers > 0 {
		cfg.Propagation.Workers = opts.workers
	}
	if opts.legacy {
		cfg.Propagation.Neighborhood = parcellation.LegacyNeighborhood.String()
	}
	if opts.keepInput {
		cfg.Output.KeepInputLabels = true
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if opts.logFile != "" {
		cfg.Logging.File = opts.logFile
	}
	return cfg, cfg.Validate()
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, fs, err := parseArgs(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) && !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			fs.Usage()
		}
		return 1
	}

	if opts.writeConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.writeConfig); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Default configuration written to %s\n", opts.writeConfig)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	closer, err := logging.Setup(logging.Options{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		MaxSize: cfg.Logging.MaxSize,
		MaxAge:  cfg.Logging.MaxAge,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closer.Close()

	fmt.Fprintf(stdout, "TrackVis Input: %s, NIfTI-1 Input: %s, Output: %s\n",
		opts.trackFile, opts.niftiFile, opts.outputFile)

	params := &pipeline.Params{
		StreamlineFile: opts.trackFile,
		VolumeFile:     opts.niftiFile,
		OutputFile:     opts.outputFile,
		TracksOutFile:  opts.tracksOut,
		SlicesDir:      opts.slicesDir,
		Config:         cfg,
	}
	p := pipeline.NewPipeline(params)

	startTime := time.Now()
	if err := p.Process(); err != nil {
		log.WithError(err).Error("Parcellation failed")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	processingTime := time.Since(startTime)

	s := p.GetResult().Stats
	fmt.Fprintf(stdout, "\nParcellation completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Fprintf(stdout, "Fibers: %d (%d labelled, %d without a cortical label)\n",
		s.Fibers, s.LabelledFibers, s.DroppedFibers)
	fmt.Fprintf(stdout, "Mean fiber length: %.1f voxels (sd %.1f)\n", s.MeanFiberLength, s.StdDevFiberLength)
	fmt.Fprintf(stdout, "Voxels observed: %d, resolved: %d, filled: %d\n",
		s.ObservedVoxels, s.ResolvedVoxels, s.FilledVoxels)
	fmt.Fprintf(stdout, "Distinct labels written: %d\n", s.DistinctLabels)
	if opts.outputFile != "" {
		fmt.Fprintf(stdout, "Output saved to: %s\n", opts.outputFile)
	}
	if opts.tracksOut != "" {
		fmt.Fprintf(stdout, "Voxelized fibers saved to: %s\n", opts.tracksOut)
	}
	if opts.slicesDir != "" {
		fmt.Fprintf(stdout, "Slices saved to: %s\n", opts.slicesDir)
	}
	return 0
}

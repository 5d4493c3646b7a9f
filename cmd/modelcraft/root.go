package main

import (
	"context"
	"fmt"
	"io"

	"github.com/danielpatrickdp/modelcraft/internal/config"
	"github.com/danielpatrickdp/modelcraft/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Exit codes.
const (
	exitNormal     = 0
	exitTerminated = 1
	exitUsage      = 2
)

// runFunc runs one job with a frozen configuration.
type runFunc func(ctx context.Context, cfg config.Config, out io.Writer) (pipeline.Termination, error)

// #region root

// execute parses args, runs the selected mode and returns the process exit
// code. Only a Normal termination exits 0.
func execute(ctx context.Context, args []string, run runFunc) int {
	code := exitNormal
	root := newRootCmd(run, &code)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return exitUsage
	}
	return code
}

func newRootCmd(run runFunc, code *int) *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "modelcraft",
		Short:         "Automated model building for X-ray crystallography and cryo-EM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")

	root.AddCommand(
		newModeCmd(config.ModeXRay, &cfgFile, run, code),
		newModeCmd(config.ModeEM, &cfgFile, run, code),
	)
	return root
}

// #endregion root

// #region mode

func newModeCmd(mode config.Mode, cfgFile *string, run runFunc, code *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:  string(mode),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(*cfgFile)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			v.Set("mode", string(mode))
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			term, err := run(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !term.Normal() {
				*code = exitTerminated
			}
			return nil
		},
	}
	if mode == config.ModeXRay {
		cmd.Short = "Build into X-ray data"
		addXRayFlags(cmd.Flags())
	} else {
		cmd.Short = "Build into a cryo-EM map"
		addEMFlags(cmd.Flags())
	}
	addRunFlags(cmd.Flags())
	return cmd
}

// #endregion mode

// #region flags

// flagKeys maps each flag to the configuration key it overrides.
var flagKeys = map[string]string{
	"contents":                  "run.contents",
	"model":                     "run.model",
	"cycles":                    "run.cycles",
	"auto-stop-cycles":          "run.auto_stop_cycles",
	"directory":                 "run.directory",
	"overwrite-directory":       "run.overwrite_directory",
	"keep-files":                "run.keep_files",
	"keep-logs":                 "run.keep_logs",
	"threads":                   "run.threads",
	"step-timeout":              "run.step_timeout",
	"disable-buccaneer":         "run.disable.buccaneer",
	"disable-nautilus":          "run.disable.nautilus",
	"disable-sheetbend":         "run.disable.sheetbend",
	"disable-pruning":           "run.disable.pruning",
	"disable-parrot":            "run.disable.parrot",
	"disable-dummy-atoms":       "run.disable.dummy_atoms",
	"disable-waters":            "run.disable.waters",
	"disable-side-chain-fixing": "run.disable.side_chain_fixing",
	"log-level":                 "logger.level",
	"log-format":                "logger.format",
	"log-file":                  "logger.log_file",
	"publish":                   "publish.url",
	"remote":                    "remote.address",

	"data":         "xray.data",
	"observations": "xray.observations",
	"phases":       "xray.phases",
	"freerflag":    "xray.freerflag",
	"unbiased":     "xray.unbiased",
	"twinned":      "xray.twinned",
	"basic":        "xray.basic",

	"map":        "em.maps",
	"resolution": "em.resolution",
	"mask":       "em.mask",
	"blur":       "em.blur",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	if err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

func addRunFlags(fs *pflag.FlagSet) {
	d := config.DefaultConfig()
	fs.String("contents", "", "sequence file or JSON/YAML contents description")
	fs.String("model", "", "starting model (PDB or mmCIF)")
	fs.Int("cycles", d.Run.Cycles, "maximum number of cycles")
	fs.Int("auto-stop-cycles", d.Run.AutoStopCycles, "stop after this many cycles without improvement (0 disables)")
	fs.String("directory", d.Run.Directory, "run directory")
	fs.Bool("overwrite-directory", false, "replace an existing run directory")
	fs.Bool("keep-files", false, "keep every step's scratch directory")
	fs.Bool("keep-logs", false, "copy every step's output log into logs/")
	fs.Int("threads", d.Run.Threads, "threads passed to programs that accept them")
	fs.Duration("step-timeout", d.Run.StepTimeout, "wall time allowed for one step")
	fs.Bool("disable-buccaneer", false, "do not build protein")
	fs.Bool("disable-nautilus", false, "do not build nucleic acid")
	fs.String("log-level", d.Logger.Level, "debug, info, warn or error")
	fs.String("log-format", d.Logger.Format, "console or json")
	fs.String("log-file", "", "rotating JSON log file (default <directory>/logs/modelcraft.log)")
	fs.String("publish", "", "copy final outputs to s3://bucket/prefix")
	fs.String("remote", "", "run steps on a stepd server at host:port")
}

func addXRayFlags(fs *pflag.FlagSet) {
	fs.String("data", "", "reflection data (MTZ)")
	fs.String("observations", "", "observation column labels, e.g. FP,SIGFP")
	fs.String("phases", "", "phase column labels (HLA,HLB,HLC,HLD or PHI,FOM)")
	fs.String("freerflag", "", "free-R flag column label")
	fs.Bool("unbiased", false, "input phases are unbiased; skip the initial refinement")
	fs.Bool("twinned", false, "refine against twinned data")
	fs.Bool("basic", false, "run only density modification, building and refinement")
	fs.Bool("disable-sheetbend", false, "do not shift the starting model")
	fs.Bool("disable-pruning", false, "do not prune residues or chains")
	fs.Bool("disable-parrot", false, "do not run density modification")
	fs.Bool("disable-dummy-atoms", false, "do not use dummy atoms; remove solvent instead")
	fs.Bool("disable-waters", false, "do not add waters")
	fs.Bool("disable-side-chain-fixing", false, "skip side-chain fixing at the end")
}

func addEMFlags(fs *pflag.FlagSet) {
	fs.StringSlice("map", nil, "map or two half maps")
	fs.Float64("resolution", 0, "map resolution in Angstroms")
	fs.String("mask", "", "mask for the map")
	fs.Float64("blur", 0, "B-factor blurring applied to the map")
}

// #endregion flags

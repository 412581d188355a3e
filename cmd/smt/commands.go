package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/timtroendle/sumatra"
)

func openProject() (*sumatra.Project, sumatra.Closer, error) {
	return sumatra.OpenProject(projectDir, logger())
}

func cmdInit() *cobra.Command {
	var cfg sumatra.ProjectConfig

	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Start tracking the project directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				cfg.Name = args[0]
			}
			if cfg.Name == "" {
				abs, err := filepath.Abs(projectDir)
				if err != nil {
					return err
				}
				cfg.Name = filepath.Base(abs)
			}

			p, closer, err := sumatra.InitProject(projectDir, &cfg, logger())
			if err != nil {
				return err
			}
			defer closer()

			fmt.Printf("tracking %s as project %q\n", p.Dir(), p.Name())
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.DefaultExecutable, "executable", "", "default executable for runs")
	cmd.Flags().StringVar(&cfg.DefaultMainFile, "main", "", "default main file for runs")
	cmd.Flags().StringVar(&cfg.DataStoreRoot, "datapath", "", "directory for run output data")
	cmd.Flags().StringVar(&cfg.ArchiveRoot, "archive", "", "archive new data into tar.gz files under this directory")
	cmd.Flags().StringVar(&cfg.MirrorURL, "mirror", "", "base URL where output data is mirrored")
	cmd.Flags().StringVar(&cfg.OnChanged, "on-changed", "", "policy for uncommitted changes: error or store-diff")
	cmd.Flags().StringVar(&cfg.LabelGenerator, "labels", "", "label generator: timestamp or uuid")
	cmd.Flags().StringVar(&cfg.Description, "description", "", "project description")

	return cmd
}

func cmdRun() *cobra.Command {
	var opts sumatra.RunOptions
	var tags []string

	cmd := &cobra.Command{
		Use:   "run [arguments...]",
		Short: "Launch a command and record its provenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			opts.Arguments = args
			opts.Tags = tags

			rec, runErr := p.Run(cmd.Context(), opts)
			if rec != nil {
				fmt.Printf("record %s: %s (%.2fs)\n", rec.Label, rec.CommandLine(),
					rec.Duration.Seconds())
			}

			return runErr
		},
	}

	cmd.Flags().StringVarP(&opts.Executable, "executable", "e", "", "executable to launch")
	cmd.Flags().StringVarP(&opts.MainFile, "main", "m", "", "main file passed to the executable")
	cmd.Flags().StringVarP(&opts.ParameterFile, "parameters", "P", "", "parameter file")
	cmd.Flags().StringSliceVarP(&opts.InputData, "input", "i", nil, "input files, relative to the input datastore root")
	cmd.Flags().StringVarP(&opts.Reason, "reason", "r", "", "why this run is being made")
	cmd.Flags().StringVarP(&opts.Label, "label", "l", "", "explicit record label")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tags for the new record")

	return cmd
}

func cmdList() *cobra.Command {
	var (
		long     bool
		reverse  bool
		tags     []string
		sinceStr string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the records of this project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			q := sumatra.Q().WithTags(tags...)
			if reverse {
				q.Order(sumatra.Descend)
			}
			if sinceStr != "" {
				since, err := time.Parse(sumatra.TimestampFormat, sinceStr)
				if err != nil {
					return fmt.Errorf("invalid --since value %q, expected %s", sinceStr, sumatra.TimestampFormat)
				}
				q.Since(since)
			}

			recs, err := p.List(cmd.Context(), q)
			if err != nil {
				return err
			}

			for _, rec := range recs {
				if long {
					printRecord(rec)
					fmt.Println()
				} else {
					fmt.Println(rec.Label)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "show full record details")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "newest first")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "only records carrying all given tags")
	cmd.Flags().StringVar(&sinceStr, "since", "", "only records started at or after this timestamp")

	return cmd
}

func cmdShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show [label]",
		Short: "Show one record, the most recent by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			var rec *sumatra.Record
			if len(args) > 0 {
				rec, err = p.Get(args[0])
			} else {
				rec, err = p.MostRecent(cmd.Context())
			}
			if err != nil {
				return err
			}

			printRecord(rec)
			return nil
		},
	}
}

func cmdDiff() *cobra.Command {
	var ignore []string

	cmd := &cobra.Command{
		Use:   "diff <label1> <label2>",
		Short: "Compare two records",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			diff, err := p.ShowDiff(args[0], args[1], sumatra.IgnoreFilenames(ignore...))
			if err != nil {
				return err
			}

			fmt.Println(diff.String())
			for _, dd := range diff.DependencyDifferences() {
				fmt.Printf("  dependency %s: %q vs %q\n", dd.Name, dd.VersionA, dd.VersionB)
			}

			dataDiff := diff.OutputDataDifferences()
			for _, k := range dataDiff.OnlyA {
				fmt.Printf("  only in %s: %s\n", args[0], k.Path)
			}
			for _, k := range dataDiff.OnlyB {
				fmt.Printf("  only in %s: %s\n", args[1], k.Path)
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "filename globs excluded from the data comparison")

	return cmd
}

func cmdTag() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <label> <tag>...",
		Short: "Tag a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			return p.Tag(args[0], args[1:]...)
		},
	}
}

func cmdUntag() *cobra.Command {
	return &cobra.Command{
		Use:   "untag <label> <tag>...",
		Short: "Remove tags from a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			return p.Untag(args[0], args[1:]...)
		},
	}
}

func cmdComment() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <label> <comment>",
		Short: "Append a comment to a record's outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			return p.Comment(args[0], args[1])
		},
	}
}

func cmdDelete() *cobra.Command {
	var (
		deleteData bool
		byTag      string
	)

	cmd := &cobra.Command{
		Use:   "delete [label]...",
		Short: "Delete records, optionally together with their output data",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			if byTag != "" {
				labels, err := p.DeleteByTag(cmd.Context(), byTag)
				for _, l := range labels {
					fmt.Printf("deleted %s\n", l)
				}
				return err
			}

			if len(args) == 0 {
				return fmt.Errorf("nothing to delete, give labels or --tag")
			}

			for _, label := range args {
				if err := p.Delete(label, deleteData); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", label)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteData, "data", false, "also delete the records' output data")
	cmd.Flags().StringVar(&byTag, "tag", "", "delete all records carrying this tag")

	return cmd
}

func cmdRepeat() *cobra.Command {
	return &cobra.Command{
		Use:   "repeat <label>",
		Short: "Re-run a recorded computation and compare the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closer, err := openProject()
			if err != nil {
				return err
			}
			defer closer()

			rec, diff, err := p.Repeat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("new record %s\n", rec.Label)
			fmt.Println(diff.String())
			return nil
		},
	}
}

func printRecord(rec *sumatra.Record) {
	fmt.Printf("Label        : %s\n", rec.Label)
	fmt.Printf("Timestamp    : %s\n", rec.Timestamp.Format(time.RFC3339))
	fmt.Printf("Duration     : %.2fs\n", rec.Duration.Seconds())
	fmt.Printf("Command      : %s\n", rec.CommandLine())
	if rec.Reason != "" {
		fmt.Printf("Reason       : %s\n", rec.Reason)
	}
	if rec.Outcome != "" {
		fmt.Printf("Outcome      : %s\n", rec.Outcome)
	}
	if rec.Repository.Version != "" {
		version := rec.Repository.Version
		if rec.Repository.Dirty {
			version += " (dirty)"
		}
		fmt.Printf("Version      : %s\n", version)
	}
	if len(rec.Tags) > 0 {
		fmt.Printf("Tags         : %s\n", strings.Join(rec.Tags, ", "))
	}
	if rec.User != "" {
		fmt.Printf("User         : %s\n", rec.User)
	}
	fmt.Printf("Platform     : %s/%s on %s\n",
		rec.Platform.SystemName, rec.Platform.Architecture, rec.Platform.Hostname)
	for _, k := range rec.InputData {
		fmt.Printf("Input        : %s (%d bytes)\n", k.Path, k.Metadata.Size)
	}
	for _, k := range rec.OutputData {
		fmt.Printf("Output       : %s (%d bytes)\n", k.Path, k.Metadata.Size)
	}
}

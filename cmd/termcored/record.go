package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/termcore/termcored/internal/recorder"
)

func recordCmd(configFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect and manage asciicast recordings on disk",
	}
	cmd.AddCommand(recordListCmd(configFlag), recordRmCmd(configFlag))
	return cmd
}

func recordListCmd(configFlag *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List recordings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			mgr, err := recorder.NewManager(cfg.RecordDir)
			if err != nil {
				return err
			}
			defer mgr.Close()

			entries, err := mgr.List(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no recordings")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FILENAME\tSIZE\tCREATED\tDURATION")
			for _, e := range entries {
				duration := "-"
				if e.Duration != nil {
					duration = strconv.FormatInt(*e.Duration, 10) + "ms"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.Filename, e.SizeHuman, e.CreatedAt, duration)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of recordings to list (0 = unbounded)")
	return cmd
}

func recordRmCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <filename>",
		Short: "Delete a recording and its sidecar metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			mgr, err := recorder.NewManager(cfg.RecordDir)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
			return nil
		},
	}
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-ubift/ubift/internal/recovery"
	"github.com/go-ubift/ubift/internal/ubi"
	"github.com/go-ubift/ubift/internal/ubifs"
	"github.com/go-ubift/ubift/pkg/app"
	"github.com/go-ubift/ubift/pkg/app/output"
)

var recoverDeleted bool

var recoverCmd = &cobra.Command{
	Use:   "recover <output-dir>",
	Short: "Write every live and (optionally) deleted file to output-dir",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir := args[0]
		img, err := openImage()
		if err != nil {
			return err
		}
		parts, err := scanPartitions(img)
		if err != nil {
			return err
		}

		var anyRecovered bool
		for _, part := range parts {
			inst, err := ubi.Open(part)
			if err != nil {
				continue // not a UBI instance; nothing to recover here
			}
			for _, vol := range inst.Volumes {
				fs, err := ubifs.Open(vol)
				if err != nil {
					continue // not a bootable UBIFS volume
				}
				volDir := filepath.Join(outDir, vol.Name)

				var result *recovery.Result
				if recoverDeleted {
					eng, err := recovery.NewEngine(fs, inst)
					if err != nil {
						return app.IntegrityError("building recovery engine", err)
					}
					appCtx := app.NewContext()
					appCtx.Context = cmd.Context()
					appCtx.Verbose = verbose
					appCtx.Quiet = quiet
					started := time.Now()
					if verbose {
						appCtx.SetProgress(func(message string, percent int) {
							upd := app.ProgressUpdate{
								Message:     message,
								Completed:   int64(percent),
								Total:       100,
								StartedAt:   started,
								ElapsedTime: time.Since(started),
							}
							fmt.Fprintf(os.Stderr, "[%s] [%3d%%] %s (eta %s)\n", vol.Name, upd.Percent(), upd.Message, upd.ETA().Round(time.Second))
						})
					}

					scanCtx := appCtx.Context
					if scanTimeout > 0 {
						withTimeout, cancel := appCtx.WithTimeout(scanTimeout)
						scanCtx = withTimeout.Context
						defer cancel()
					}

					result, err = eng.Scan(scanCtx, appCtx.Progress)
					if err != nil {
						return app.IntegrityError(fmt.Sprintf("scanning volume %q for deleted objects", vol.Name), err)
					}
				}

				if err := recovery.WriteTree(fs, volDir, result); err != nil {
					return app.IntegrityError(fmt.Sprintf("writing recovered tree for volume %q", vol.Name), err)
				}
				anyRecovered = true
				if !quiet {
					fmt.Fprintf(os.Stderr, "recovered volume %q to %s\n", vol.Name, volDir)
				}
			}
		}
		if !anyRecovered {
			return app.InputError("no UBIFS volumes found to recover", nil)
		}
		return nil
	},
}

type infoRow struct {
	SessionID        string `json:"session_id" yaml:"session_id"`
	Partitions       int    `json:"partitions" yaml:"partitions"`
	UBIInstances     int    `json:"ubi_instances" yaml:"ubi_instances"`
	Volumes          int    `json:"volumes" yaml:"volumes"`
	OrphanVolumes    int    `json:"orphan_volumes" yaml:"orphan_volumes"`
	StalePEBs        int    `json:"stale_pebs" yaml:"stale_pebs"`
	UnreferencedPEBs int    `json:"unreferenced_pebs" yaml:"unreferenced_pebs"`
}

func (r infoRow) Header() []string { return []string{"FIELD", "VALUE"} }

func (r infoRow) Rows() [][]string {
	return [][]string{
		{"session_id", r.SessionID},
		{"partitions", fmt.Sprint(r.Partitions)},
		{"ubi_instances", fmt.Sprint(r.UBIInstances)},
		{"volumes", fmt.Sprint(r.Volumes)},
		{"orphan_volumes", fmt.Sprint(r.OrphanVolumes)},
		{"stale_pebs", fmt.Sprint(r.StalePEBs)},
		{"unreferenced_pebs", fmt.Sprint(r.UnreferencedPEBs)},
	}
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Report aggregate recoverability statistics for the image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := openImage()
		if err != nil {
			return err
		}
		parts, err := scanPartitions(img)
		if err != nil {
			return err
		}
		var instances []*ubi.Instance
		for _, part := range parts {
			inst, err := ubi.Open(part)
			if err != nil {
				continue
			}
			instances = append(instances, inst)
		}
		info := recovery.BuildInfo(parts, instances)
		row := infoRow{
			SessionID:        info.SessionID.String(),
			Partitions:       info.Partitions,
			UBIInstances:     info.UBIInstances,
			Volumes:          info.Volumes,
			OrphanVolumes:    info.OrphanVolumes,
			StalePEBs:        info.StalePEBs,
			UnreferencedPEBs: info.UnreferencedPEBs,
		}
		return output.Format(os.Stdout, outputFormat, row)
	},
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverDeleted, "deleted", false, "also recover deleted objects into a deleted/ subtree")
	rootCmd.AddCommand(recoverCmd, infoCmd)
}

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-ubift/ubift/internal/ubi"
)

var pebcatCmd = &cobra.Command{
	Use:   "pebcat <partition-index> <peb-index>",
	Short: "Dump the raw bytes (headers included) of a single physical erase block",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := openImage()
		if err != nil {
			return err
		}
		parts, err := scanPartitions(img)
		if err != nil {
			return err
		}
		partIdx, err := strconv.Atoi(args[0])
		if err != nil || partIdx < 0 || partIdx >= len(parts) {
			return fmt.Errorf("invalid partition index %q", args[0])
		}
		part := parts[partIdx]
		pebIdx, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid peb index %q", args[1])
		}
		pebs, err := ubi.EnumeratePEBs(part)
		if err != nil {
			return err
		}
		if pebIdx < 0 || pebIdx >= len(pebs) {
			return fmt.Errorf("peb index %d out of range (have %d)", pebIdx, len(pebs))
		}
		data, err := img.ReadAt(pebs[pebIdx].Offset, int64(pebs[pebIdx].PEBSize))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(pebcatCmd)
}

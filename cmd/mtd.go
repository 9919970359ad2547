package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-ubift/ubift/pkg/app/output"
)

// partitionRows renders spec.md §6's mtdls output: (index, offset, length,
// description).
type partitionRows struct {
	Partitions []partitionRow `json:"partitions" yaml:"partitions"`
}

type partitionRow struct {
	Index       int    `json:"index" yaml:"index"`
	Offset      int64  `json:"offset" yaml:"offset"`
	Length      int64  `json:"length" yaml:"length"`
	Description string `json:"description" yaml:"description"`
}

func (r partitionRows) Header() []string { return []string{"INDEX", "OFFSET", "LENGTH", "DESCRIPTION"} }

func (r partitionRows) Rows() [][]string {
	out := make([][]string, 0, len(r.Partitions))
	for _, p := range r.Partitions {
		out = append(out, []string{
			strconv.Itoa(p.Index),
			strconv.FormatInt(p.Offset, 10),
			strconv.FormatInt(p.Length, 10),
			p.Description,
		})
	}
	return out
}

var mtdlsCmd = &cobra.Command{
	Use:   "mtdls",
	Short: "List MTD-like partitions discovered in the image",
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := openImage()
		if err != nil {
			return err
		}
		parts, err := scanPartitions(img)
		if err != nil {
			return err
		}
		rows := partitionRows{}
		for i, p := range parts {
			rows.Partitions = append(rows.Partitions, partitionRow{Index: i, Offset: p.Offset, Length: p.Length, Description: p.Description})
		}
		return output.Format(os.Stdout, outputFormat, rows)
	},
}

var mtdcatCmd = &cobra.Command{
	Use:   "mtdcat <partition-index>",
	Short: "Dump raw bytes of a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid partition index %q", args[0])
		}
		img, err := openImage()
		if err != nil {
			return err
		}
		parts, err := scanPartitions(img)
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(parts) {
			return fmt.Errorf("partition index %d out of range (have %d)", idx, len(parts))
		}
		_, err = os.Stdout.Write(parts[idx].Data())
		return err
	},
}

func init() {
	rootCmd.AddCommand(mtdlsCmd, mtdcatCmd)
}

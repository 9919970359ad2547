package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-ubift/ubift/pkg/app/output"
)

type volumeRows struct {
	Volumes []volumeRow `json:"volumes" yaml:"volumes"`
}

type volumeRow struct {
	ID       uint32 `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	LEBCount int    `json:"leb_count" yaml:"leb_count"`
	Type     string `json:"type" yaml:"type"`
	Orphan   bool   `json:"orphan" yaml:"orphan"`
}

func (r volumeRows) Header() []string { return []string{"ID", "NAME", "LEBS", "TYPE", "ORPHAN"} }

func (r volumeRows) Rows() [][]string {
	out := make([][]string, 0, len(r.Volumes))
	for _, v := range r.Volumes {
		out = append(out, []string{
			strconv.FormatUint(uint64(v.ID), 10),
			v.Name,
			strconv.Itoa(v.LEBCount),
			v.Type,
			strconv.FormatBool(v.Orphan),
		})
	}
	return out
}

var ubilsCmd = &cobra.Command{
	Use:   "ubils <partition-offset>",
	Short: "List UBI volumes of the instance at partition-offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := openImage()
		if err != nil {
			return err
		}
		inst, err := openInstanceAt(img, args[0])
		if err != nil {
			return err
		}
		rows := volumeRows{}
		for _, v := range inst.Volumes {
			rows.Volumes = append(rows.Volumes, volumeRow{ID: v.ID, Name: v.Name, LEBCount: v.LEBCount(), Type: v.Type.String(), Orphan: v.IsOrphan()})
		}
		return output.Format(os.Stdout, outputFormat, rows)
	},
}

var ubicatCmd = &cobra.Command{
	Use:   "ubicat <partition-offset> <volume-name>",
	Short: "Dump the full concatenated byte stream of a UBI volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := openImage()
		if err != nil {
			return err
		}
		inst, err := openInstanceAt(img, args[0])
		if err != nil {
			return err
		}
		vol, err := openVolume(inst, args[1])
		if err != nil {
			return err
		}
		data, err := vol.Bytes()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(ubilsCmd, ubicatCmd)
}

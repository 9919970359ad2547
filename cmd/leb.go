package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-ubift/ubift/pkg/app"
	"github.com/go-ubift/ubift/pkg/app/output"
)

type lebRows struct {
	LEBs []lebRow `json:"lebs" yaml:"lebs"`
}

type lebRow struct {
	LNum       int  `json:"lnum" yaml:"lnum"`
	BackingPEB int  `json:"backing_peb" yaml:"backing_peb"`
	Mapped     bool `json:"mapped" yaml:"mapped"`
}

func (r lebRows) Header() []string { return []string{"LEB", "PEB", "MAPPED"} }

func (r lebRows) Rows() [][]string {
	out := make([][]string, 0, len(r.LEBs))
	for _, l := range r.LEBs {
		peb := "-"
		if l.Mapped {
			peb = strconv.Itoa(l.BackingPEB)
		}
		out = append(out, []string{strconv.Itoa(l.LNum), peb, strconv.FormatBool(l.Mapped)})
	}
	return out
}

var leblsCmd = &cobra.Command{
	Use:   "lebls <partition-offset> <volume-name>",
	Short: "List logical erase blocks of a volume and their backing PEB",
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
		rows := lebRows{}
		for i := 0; i < vol.LEBCount(); i++ {
			p, ok := inst.LivePEB(vol.ID, uint32(i))
			row := lebRow{LNum: i, Mapped: ok}
			if ok {
				row.BackingPEB = p.Num
			}
			rows.LEBs = append(rows.LEBs, row)
		}
		return output.Format(os.Stdout, outputFormat, rows)
	},
}

var lebcatCmd = &cobra.Command{
	Use:   "lebcat <partition-offset> <volume-name> <leb#>",
	Short: "Dump the bytes of a single logical erase block",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := openImage()
		if err != nil {
			return err
		}
		inst, err := openInstanceAt(img, args[0])
		if err != nil {
			return err
		}
		lnum, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid leb number %q", args[2])
		}
		target := &app.Target{VolumeName: args[1], LEB: int64(lnum), HasLEB: true}
		if err := target.Validate(); err != nil {
			return app.InputError(fmt.Sprintf("resolving %s", target), err)
		}
		vol, err := openVolume(inst, target.VolumeName)
		if err != nil {
			return err
		}
		data, err := vol.ReadLEB(int(target.LEB))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(leblsCmd, lebcatCmd)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-ubift/ubift/internal/recovery"
	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubi"
	"github.com/go-ubift/ubift/internal/ubifs"
	"github.com/go-ubift/ubift/pkg/app"
	"github.com/go-ubift/ubift/pkg/app/output"
)

var showDeleted bool

// fsstatRow renders spec.md §6's fsstat output: superblock + master summary.
type fsstatRow struct {
	LEBSize      uint32 `json:"leb_size" yaml:"leb_size"`
	MinIOSize    uint32 `json:"min_io_size" yaml:"min_io_size"`
	LEBCnt       uint32 `json:"leb_cnt" yaml:"leb_cnt"`
	Fanout       uint32 `json:"fanout" yaml:"fanout"`
	DefaultCompr string `json:"default_compression" yaml:"default_compression"`
	HighestInum  uint64 `json:"highest_inum" yaml:"highest_inum"`
	CmtNo        uint64 `json:"commit_number" yaml:"commit_number"`
	RootLNum     uint32 `json:"root_lnum" yaml:"root_lnum"`
	RootOffs     uint32 `json:"root_offs" yaml:"root_offs"`
	LogLNum      uint32 `json:"log_lnum" yaml:"log_lnum"`
}

func (r fsstatRow) Header() []string { return []string{"FIELD", "VALUE"} }

func (r fsstatRow) Rows() [][]string {
	return [][]string{
		{"leb_size", strconv.FormatUint(uint64(r.LEBSize), 10)},
		{"min_io_size", strconv.FormatUint(uint64(r.MinIOSize), 10)},
		{"leb_cnt", strconv.FormatUint(uint64(r.LEBCnt), 10)},
		{"fanout", strconv.FormatUint(uint64(r.Fanout), 10)},
		{"default_compression", r.DefaultCompr},
		{"highest_inum", strconv.FormatUint(r.HighestInum, 10)},
		{"commit_number", strconv.FormatUint(r.CmtNo, 10)},
		{"root_lnum", strconv.FormatUint(uint64(r.RootLNum), 10)},
		{"root_offs", strconv.FormatUint(uint64(r.RootOffs), 10)},
		{"log_lnum", strconv.FormatUint(uint64(r.LogLNum), 10)},
	}
}

var fsstatCmd = &cobra.Command{
	Use:   "fsstat <partition-offset> <volume-name>",
	Short: "Show the UBIFS superblock and master node summary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, _, err := resolveFS(args[0], args[1])
		if err != nil {
			return err
		}
		row := fsstatRow{
			LEBSize:      fs.Superblock.LEBSize,
			MinIOSize:    fs.Superblock.MinIOSize,
			LEBCnt:       fs.Superblock.LEBCnt,
			Fanout:       fs.Superblock.Fanout,
			DefaultCompr: fs.Superblock.DefaultCompr.String(),
			HighestInum:  fs.Master.HighestInum,
			CmtNo:        fs.Master.CmtNo,
			RootLNum:     fs.Master.RootLNum,
			RootOffs:     fs.Master.RootOffs,
			LogLNum:      fs.Master.LogLNum,
		}
		return output.Format(os.Stdout, outputFormat, row)
	},
}

type dentRows struct {
	Entries []dentRow `json:"entries" yaml:"entries"`
}

type dentRow struct {
	Type    string `json:"type" yaml:"type"`
	Inode   uint32 `json:"inode" yaml:"inode"`
	Parent  uint32 `json:"parent" yaml:"parent"`
	Name    string `json:"name" yaml:"name"`
	Deleted bool   `json:"deleted" yaml:"deleted"`
}

func (r dentRows) Header() []string { return []string{"TYPE", "INODE", "PARENT", "NAME", "DELETED"} }

func (r dentRows) Rows() [][]string {
	out := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, []string{e.Type, strconv.FormatUint(uint64(e.Inode), 10), strconv.FormatUint(uint64(e.Parent), 10), e.Name, strconv.FormatBool(e.Deleted)})
	}
	return out
}

func dentTypeName(t uint8) string {
	switch types.InodeType(t) {
	case types.ITypeDir:
		return "dir"
	case types.ITypeLnk:
		return "lnk"
	default:
		return "file"
	}
}

var flsCmd = &cobra.Command{
	Use:   "fls <partition-offset> <volume-name> [inode]",
	Short: "List directory entries of an inode (root if omitted)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, inst, err := resolveFS(args[0], args[1])
		if err != nil {
			return err
		}
		inum := uint32(1)
		if len(args) == 3 {
			v, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid inode %q", args[2])
			}
			inum = uint32(v)
		}
		rows := dentRows{}
		dents, err := fs.ListDir(inum)
		if err != nil {
			return err
		}
		for _, d := range dents {
			rows.Entries = append(rows.Entries, dentRow{Type: dentTypeName(d.Type), Inode: uint32(d.Inum), Parent: inum, Name: string(d.Name)})
		}
		if showDeleted {
			result, err := runRecoveryScan(cmd.Context(), fs, inst)
			if err != nil {
				return err
			}
			for _, df := range result.Deleted {
				belongsHere := (df.ParentIno == inum) || (df.ParentIno == 0 && inum == 1)
				if !belongsHere {
					continue
				}
				typ := "file"
				if df.Ino != nil {
					typ = dentTypeName(uint8(df.Ino.Type()))
				}
				rows.Entries = append(rows.Entries, dentRow{Type: typ, Inode: df.Inode, Parent: inum, Name: df.Name, Deleted: true})
			}
		}
		return output.Format(os.Stdout, outputFormat, rows)
	},
}

type inodeRows struct {
	Inodes []inodeRow `json:"inodes" yaml:"inodes"`
}

type inodeRow struct {
	Inode   uint32 `json:"inode" yaml:"inode"`
	Size    uint64 `json:"size" yaml:"size"`
	NLink   uint32 `json:"nlink" yaml:"nlink"`
	Mode    uint32 `json:"mode" yaml:"mode"`
	Deleted bool   `json:"deleted" yaml:"deleted"`
}

func (r inodeRows) Header() []string { return []string{"INODE", "SIZE", "NLINK", "MODE", "DELETED"} }

func (r inodeRows) Rows() [][]string {
	out := make([][]string, 0, len(r.Inodes))
	for _, i := range r.Inodes {
		out = append(out, []string{
			strconv.FormatUint(uint64(i.Inode), 10),
			strconv.FormatUint(i.Size, 10),
			strconv.FormatUint(uint64(i.NLink), 10),
			strconv.FormatUint(uint64(i.Mode), 8),
			strconv.FormatBool(i.Deleted),
		})
	}
	return out
}

var ilsCmd = &cobra.Command{
	Use:   "ils <partition-offset> <volume-name>",
	Short: "List inode metadata rows",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, inst, err := resolveFS(args[0], args[1])
		if err != nil {
			return err
		}
		inums, err := fs.ListInodes()
		if err != nil {
			return err
		}
		rows := inodeRows{}
		for _, inum := range inums {
			ino, err := fs.StatInode(inum)
			if err != nil {
				continue
			}
			rows.Inodes = append(rows.Inodes, inodeRow{Inode: inum, Size: ino.Size, NLink: ino.NLink, Mode: ino.Mode})
		}
		if showDeleted {
			result, err := runRecoveryScan(cmd.Context(), fs, inst)
			if err != nil {
				return err
			}
			for _, df := range result.Deleted {
				rows.Inodes = append(rows.Inodes, inodeRow{Inode: df.Inode, Size: df.Ino.Size, NLink: df.Ino.NLink, Mode: df.Ino.Mode, Deleted: true})
			}
		}
		return output.Format(os.Stdout, outputFormat, rows)
	},
}

type istatRow struct {
	Inode     uint32 `json:"inode" yaml:"inode"`
	Size      uint64 `json:"size" yaml:"size"`
	NLink     uint32 `json:"nlink" yaml:"nlink"`
	UID       uint32 `json:"uid" yaml:"uid"`
	GID       uint32 `json:"gid" yaml:"gid"`
	Mode      uint32 `json:"mode" yaml:"mode"`
	XattrCnt  uint32 `json:"xattr_count" yaml:"xattr_count"`
	Compr     string `json:"compression" yaml:"compression"`
}

func (r istatRow) Header() []string { return []string{"FIELD", "VALUE"} }

func (r istatRow) Rows() [][]string {
	return [][]string{
		{"inode", strconv.FormatUint(uint64(r.Inode), 10)},
		{"size", strconv.FormatUint(r.Size, 10)},
		{"nlink", strconv.FormatUint(uint64(r.NLink), 10)},
		{"uid", strconv.FormatUint(uint64(r.UID), 10)},
		{"gid", strconv.FormatUint(uint64(r.GID), 10)},
		{"mode", strconv.FormatUint(uint64(r.Mode), 8)},
		{"xattr_count", strconv.FormatUint(uint64(r.XattrCnt), 10)},
		{"compression", r.Compr},
	}
}

var istatCmd = &cobra.Command{
	Use:   "istat <partition-offset> <volume-name> <inode#>",
	Short: "Show inode metadata",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, _, err := resolveFS(args[0], args[1])
		if err != nil {
			return err
		}
		inum, err := parseInode(args[2])
		if err != nil {
			return err
		}
		if _, err := inodeTarget(args[1], inum); err != nil {
			return err
		}
		ino, err := fs.StatInode(inum)
		if err != nil {
			return err
		}
		row := istatRow{
			Inode: inum, Size: ino.Size, NLink: ino.NLink, UID: ino.UID, GID: ino.GID,
			Mode: ino.Mode, XattrCnt: ino.XattrCnt, Compr: ino.ComprType.String(),
		}
		return output.Format(os.Stdout, outputFormat, row)
	},
}

var icatCmd = &cobra.Command{
	Use:   "icat <partition-offset> <volume-name> <inode#>",
	Short: "Dump the content of a regular file inode",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, _, err := resolveFS(args[0], args[1])
		if err != nil {
			return err
		}
		inum, err := parseInode(args[2])
		if err != nil {
			return err
		}
		target, err := inodeTarget(args[1], inum)
		if err != nil {
			return err
		}
		ino, err := fs.StatInode(uint32(target.Inode))
		if err != nil {
			return err
		}
		if ino.Type() == types.ITypeLnk {
			fmt.Fprintln(os.Stdout, fs.ReadSymlink(ino))
			return nil
		}
		data, err := fs.ReadFile(inum, ino.Size)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var ffindCmd = &cobra.Command{
	Use:   "ffind <partition-offset> <volume-name> <inode#>",
	Short: "Find every dentry pointing at an inode",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, _, err := resolveFS(args[0], args[1])
		if err != nil {
			return err
		}
		inum, err := parseInode(args[2])
		if err != nil {
			return err
		}
		target, err := inodeTarget(args[1], inum)
		if err != nil {
			return err
		}
		dents, err := fs.FindDentriesFor(uint32(target.Inode))
		if err != nil {
			return err
		}
		rows := dentRows{}
		for _, d := range dents {
			rows.Entries = append(rows.Entries, dentRow{Type: dentTypeName(d.Type), Inode: inum, Parent: d.Key.InodeNum, Name: string(d.Name)})
		}
		return output.Format(os.Stdout, outputFormat, rows)
	},
}

type journalRows struct {
	Entries []journalRow `json:"entries" yaml:"entries"`
}

type journalRow struct {
	Head    string `json:"head" yaml:"head"`
	LNum    uint32 `json:"lnum" yaml:"lnum"`
	Offs    uint32 `json:"offs" yaml:"offs"`
	Type    string `json:"type" yaml:"type"`
	SqNum   uint64 `json:"sqnum" yaml:"sqnum"`
}

func (r journalRows) Header() []string { return []string{"HEAD", "LEB", "OFFS", "TYPE", "SQNUM"} }

func (r journalRows) Rows() [][]string {
	out := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, []string{e.Head, strconv.FormatUint(uint64(e.LNum), 10), strconv.FormatUint(uint64(e.Offs), 10), e.Type, strconv.FormatUint(e.SqNum, 10)})
	}
	return out
}

var jlsCmd = &cobra.Command{
	Use:   "jls <partition-offset> <volume-name>",
	Short: "List every journal node in sequence order, including log framing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, _, err := resolveFS(args[0], args[1])
		if err != nil {
			return err
		}
		rows := journalRows{}
		// The commit-start marker and the reference nodes are the log LEB's
		// framing around the bud contents — jls shows the whole log, not
		// just what the buds hold, mirroring Journal._parse_log.
		if fs.Journal.CS != nil {
			rows.Entries = append(rows.Entries, journalRow{Head: "-", LNum: fs.Master.LogLNum, Type: fs.Journal.CS.CH.NodeType.String(), SqNum: fs.Journal.CS.CH.SqNum})
		}
		for head, ref := range fs.Journal.Heads {
			rows.Entries = append(rows.Entries, journalRow{Head: head.String(), LNum: ref.LNum, Offs: ref.Offs, Type: ref.CH.NodeType.String(), SqNum: ref.CH.SqNum})
		}
		for head, bud := range fs.Journal.Buds {
			for _, n := range bud {
				rows.Entries = append(rows.Entries, journalRow{Head: head.String(), LNum: fs.Journal.Heads[head].LNum, Type: n.Type.String(), SqNum: n.CH.SqNum})
			}
		}
		sortJournalRows(rows.Entries)
		return output.Format(os.Stdout, outputFormat, rows)
	},
}

func sortJournalRows(entries []journalRow) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].SqNum > entries[j].SqNum; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func parseInode(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid inode %q", s)
	}
	return uint32(v), nil
}

// inodeTarget builds and validates a Target narrowing a query to a single
// inode within volumeName, for commands keyed on an explicit inode number.
func inodeTarget(volumeName string, inum uint32) (*app.Target, error) {
	target := &app.Target{VolumeName: volumeName, Inode: uint64(inum), HasInode: true}
	if err := target.Validate(); err != nil {
		return nil, app.InputError(fmt.Sprintf("resolving %s", target), err)
	}
	return target, nil
}

// runRecoveryScan builds a recovery.Engine over fs/inst and runs one scan,
// reporting progress on stderr when --verbose is set and aborting after
// --timeout when one is configured.
func runRecoveryScan(ctx context.Context, fs *ubifs.FS, inst *ubi.Instance) (*recovery.Result, error) {
	eng, err := recovery.NewEngine(fs, inst)
	if err != nil {
		return nil, err
	}

	appCtx := app.NewContext()
	appCtx.Context = ctx
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
			fmt.Fprintf(os.Stderr, "[%3d%%] %s (eta %s)\n", upd.Percent(), upd.Message, upd.ETA().Round(time.Second))
		})
	}

	scanCtx := appCtx.Context
	if scanTimeout > 0 {
		withTimeout, cancel := appCtx.WithTimeout(scanTimeout)
		defer cancel()
		scanCtx = withTimeout.Context
	}

	return eng.Scan(scanCtx, appCtx.Progress)
}

func init() {
	flsCmd.Flags().BoolVar(&showDeleted, "deleted", false, "include recovered deleted entries")
	ilsCmd.Flags().BoolVar(&showDeleted, "deleted", false, "include recovered deleted inodes")
	rootCmd.AddCommand(fsstatCmd, flsCmd, ilsCmd, istatCmd, icatCmd, ffindCmd, jlsCmd)
}

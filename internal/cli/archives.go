package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/diaglog/internal/config"
	"github.com/ehrlich-b/diaglog/internal/logstore"
)

// ListArchives prints the active file and the archives, newest first.
func ListArchives(cfg *config.Config, out io.Writer) error {
	store := logstore.NewArchiver(cfg.Dir, cfg.Writer.FilePrefix, nil, nil)
	archives, err := store.List()
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")

	name := cfg.WriterConfig().ActiveFileName()
	if st, err := os.Stat(filepath.Join(cfg.Dir, name)); err == nil {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, humanize.IBytes(uint64(st.Size())), humanize.Time(st.ModTime()))
	}
	for i := len(archives) - 1; i >= 0; i-- {
		a := archives[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, humanize.IBytes(uint64(a.Size)), humanize.Time(a.ModTime))
	}
	return tw.Flush()
}

// Cat writes a log file to out. An empty name means the active file;
// archives are decompressed.
func Cat(cfg *config.Config, name string, out io.Writer) error {
	active := cfg.WriterConfig().ActiveFileName()
	if name == "" || name == active {
		f, err := os.Open(filepath.Join(cfg.Dir, active))
		if err != nil {
			return fmt.Errorf("open active log file: %w", err)
		}
		defer f.Close()
		_, err = io.Copy(out, f)
		return err
	}

	store := logstore.NewArchiver(cfg.Dir, cfg.Writer.FilePrefix, nil, nil)
	rc, err := store.Open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(out, rc)
	return err
}

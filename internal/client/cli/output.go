package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/dngdrop/internal/api"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func (a *App) printUpload(res *api.UploadResponse) error {
	if !a.table {
		return writeJSON(a.stdout, res)
	}

	fmt.Fprintln(a.stdout, res.Message)
	tw := newTable(a.stdout)
	fmt.Fprintln(tw, "STATUS\tNAME\tUNIQUE\tTOKEN")

	tokens := res.FileTokens
	next := func() string {
		if len(tokens) == 0 {
			return ""
		}
		t := tokens[0]
		tokens = tokens[1:]
		return t
	}
	for _, name := range res.ProcessedFiles {
		fmt.Fprintf(tw, "processed\t%s\t%s\t%s\n", name, res.FileMapping[name], next())
	}
	for _, name := range res.SkippedFiles {
		fmt.Fprintf(tw, "skipped\t%s\t%s\t%s\n", name, res.FileMapping[name], next())
	}
	for _, f := range res.FailedFiles {
		fmt.Fprintf(tw, "failed\t%s\t\t%s\n", f.Name, f.Error)
	}
	return tw.Flush()
}

func (a *App) printList(files []api.FileInfo) error {
	if !a.table {
		return writeJSON(a.stdout, api.ListResponse{Files: files})
	}
	if len(files) == 0 {
		fmt.Fprintln(a.stdout, "no files")
		return nil
	}

	tw := newTable(a.stdout)
	fmt.Fprintln(tw, "NAME\tUNIQUE\tSIZE\tCREATED\tTOKEN")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.DisplayName, f.Unique, humanize.Bytes(uint64(f.Size)),
			humanize.RelTime(f.CreatedAt, time.Now(), "ago", "from now"), f.Token)
	}
	return tw.Flush()
}

// savedFile is the JSON shape printed by download and preview.
type savedFile struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

func (a *App) printSaved(s savedFile) error {
	if !a.table {
		return writeJSON(a.stdout, s)
	}
	_, err := fmt.Fprintf(a.stdout, "%s saved to %s (%s)\n", s.Name, s.Path, humanize.Bytes(uint64(s.Bytes)))
	return err
}

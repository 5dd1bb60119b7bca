package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/dngdrop/internal/common"
)

func (a *App) upload(ctx context.Context, args []string) error {
	fs := newFlagSet("upload")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := a.requireUser(); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: upload FILE...", ErrUsage)
	}

	// Fail before streaming possibly large files to a server that is still
	// resetting or not there at all.
	if err := a.client.Ping(ctx); err != nil {
		return err
	}

	res, err := a.client.Upload(ctx, a.config.UserID, fs.Args())
	if err != nil {
		return err
	}
	return a.printUpload(res)
}

func (a *App) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := a.requireUser(); err != nil {
		return err
	}

	files, err := a.client.List(ctx, a.config.UserID)
	if err != nil {
		return err
	}
	return a.printList(files)
}

// tokenFor returns a fresh token for the artifact unique. Listing reissues
// every token of the user, so earlier tokens stop working.
func (a *App) tokenFor(ctx context.Context, unique string) (string, error) {
	files, err := a.client.List(ctx, a.config.UserID)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Unique == unique {
			return f.Token, nil
		}
	}
	return "", fmt.Errorf("%s: %w", unique, common.ErrNotFound)
}

func (a *App) download(ctx context.Context, args []string) error {
	fs := newFlagSet("download")
	token := fs.String("token", "", "download token (fetched through list when empty)")
	dir := fs.StringP("output", "o", ".", "directory to save into")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := a.requireUser(); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: download [--token T] [-o DIR] NAME", ErrUsage)
	}
	unique := fs.Arg(0)

	if *token == "" {
		t, err := a.tokenFor(ctx, unique)
		if err != nil {
			return err
		}
		*token = t
	}

	path, err := a.client.Download(ctx, a.config.UserID, unique, *token, *dir)
	if err != nil {
		return err
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	return a.printSaved(savedFile{Name: unique, Path: path, Bytes: st.Size()})
}

func (a *App) preview(ctx context.Context, args []string) error {
	fs := newFlagSet("preview")
	token := fs.String("token", "", "download token (fetched through list when empty)")
	out := fs.StringP("output", "o", "", "file to write (default NAME with .jpg)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := a.requireUser(); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: preview [--token T] [-o FILE] NAME", ErrUsage)
	}
	name := fs.Arg(0)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	if *token == "" {
		t, err := a.tokenFor(ctx, stem+common.PrimaryExt)
		if err != nil {
			return err
		}
		*token = t
	}
	if *out == "" {
		*out = filepath.Base(stem) + common.PreviewExt
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	n, err := a.client.Preview(ctx, a.config.UserID, name, *token, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(*out)
		return err
	}
	return a.printSaved(savedFile{Name: name, Path: *out, Bytes: n})
}

func (a *App) reset(ctx context.Context, args []string) error {
	fs := newFlagSet("reset")
	token := fs.String("admin-token", "", "admin token (prompted for when empty)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if *token == "" {
		fmt.Fprint(a.stderr, "Admin token: ")
		b, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(a.stderr)
		if err != nil {
			return fmt.Errorf("read admin token: %w", err)
		}
		*token = strings.TrimSpace(string(b))
	}

	if err := a.client.Reset(ctx, *token); err != nil {
		return err
	}
	if !a.table {
		return writeJSON(a.stdout, map[string]string{"status": "reset"})
	}
	fmt.Fprintln(a.stdout, "server state reset")
	return nil
}

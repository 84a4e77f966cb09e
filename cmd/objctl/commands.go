package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
	"github.com/eteran/objstore/pkg/storage"
)

func parsePath(s string) (objpath.Path, error) {
	p, err := objpath.Parse(s)
	if err != nil {
		return objpath.Path{}, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return p, nil
}

// openInput opens file for reading, where "-" is stdin.
func openInput(cmd *cobra.Command, file string) (io.ReadCloser, error) {
	if file == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(file)
}

func newGetCommand(a *app) *cobra.Command {
	var (
		offset int64
		length int64
	)

	cmd := &cobra.Command{
		Use:   "get <key> [file]",
		Short: "Download an object to a file or stdout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0])
			if err != nil {
				return err
			}

			var opts core.GetOptions
			if offset > 0 || length > 0 {
				opts.Range = &core.ByteRange{Start: offset}
				if length > 0 {
					opts.Range.End = offset + length
				}
			}

			resp, err := a.client.Get(cmd.Context(), p, opts)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var n int64
			if len(args) == 2 && args[1] != "-" {
				n, err = writeFileAtomic(args[1], resp.Body)
			} else {
				n, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			}
			if err != nil {
				return &core.ResponseBodyError{Op: core.OpGet, Path: p.String(), Err: err}
			}
			a.logger.Debug("Downloaded object", "key", p.String(), "size", humanize.IBytes(uint64(n)))
			return nil
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", 0, "first byte to read")
	cmd.Flags().Int64Var(&length, "length", 0, "number of bytes to read, 0 reads to the end")
	return cmd
}

func newStatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <key>",
		Short: "Show an object's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0])
			if err != nil {
				return err
			}

			resp, err := a.client.Head(cmd.Context(), p, core.GetOptions{})
			if err != nil {
				return err
			}
			resp.Body.Close()

			size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Key:\t%s\n", p)
			fmt.Fprintf(w, "Size:\t%s (%d bytes)\n", humanize.IBytes(uint64(size)), size)
			fmt.Fprintf(w, "ETag:\t%s\n", resp.Header.Get("ETag"))
			fmt.Fprintf(w, "Content-Type:\t%s\n", resp.Header.Get("Content-Type"))
			if modified, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
				fmt.Fprintf(w, "Last-Modified:\t%s (%s)\n", modified.UTC().Format(time.RFC3339), humanize.Time(modified))
			}
			return w.Flush()
		},
	}
}

func newPutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <file>",
		Short: "Upload a file in a single request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0])
			if err != nil {
				return err
			}

			in, err := openInput(cmd, args[1])
			if err != nil {
				return err
			}
			defer in.Close()

			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}

			if err := storage.WriteObject(cmd.Context(), a.client, p, data); err != nil {
				return err
			}
			a.logger.Info("Uploaded object", "key", p.String(), "size", humanize.IBytes(uint64(len(data))))
			return nil
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>...",
		Aliases: []string{"delete"},
		Short:   "Delete objects",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				p, err := parsePath(arg)
				if err != nil {
					return err
				}
				if err := a.client.Delete(cmd.Context(), p, nil); err != nil {
					return err
				}
				a.logger.Info("Deleted object", "key", p.String())
			}
			return nil
		},
	}
}

func newCopyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <from> <to>",
		Short: "Copy an object within the bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parsePath(args[0])
			if err != nil {
				return err
			}
			to, err := parsePath(args[1])
			if err != nil {
				return err
			}

			if err := a.client.Copy(cmd.Context(), from, to); err != nil {
				return err
			}
			a.logger.Info("Copied object", "from", from.String(), "to", to.String())
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	var (
		recursive bool
		after     string
	)

	cmd := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List objects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix *objpath.Path
			if len(args) == 1 {
				p, err := parsePath(args[0])
				if err != nil {
					return err
				}
				if !p.IsRoot() {
					prefix = &p
				}
			}

			var offset *objpath.Path
			if after != "" {
				p, err := parsePath(after)
				if err != nil {
					return err
				}
				offset = &p
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			var count int
			var total uint64
			for page, err := range a.client.ListPaginated(prefix, !recursive, offset).Pages(cmd.Context()) {
				if err != nil {
					return err
				}
				for _, cp := range page.CommonPrefixes {
					fmt.Fprintf(w, "\tPRE\t%s/\n", cp)
				}
				for _, obj := range page.Objects {
					fmt.Fprintf(w, "%s\t%s\t%s\n",
						obj.LastModified.UTC().Format(time.RFC3339),
						humanize.IBytes(uint64(obj.Size)),
						obj.Location,
					)
					count++
					total += uint64(obj.Size)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			a.logger.Debug("Listed objects", "count", count, "total_size", humanize.IBytes(total))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list every key below the prefix instead of grouping by \"/\"")
	cmd.Flags().StringVar(&after, "start-after", "", "list keys after this one")
	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var (
		partSize    string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "upload <key> <file>",
		Short: "Upload a file as a multipart upload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePath(args[0])
			if err != nil {
				return err
			}

			size, err := humanize.ParseBytes(partSize)
			if err != nil {
				return fmt.Errorf("invalid part size %q: %w", partSize, err)
			}

			in, err := openInput(cmd, args[1])
			if err != nil {
				return err
			}
			defer in.Close()

			start := time.Now()
			n, err := storage.Upload(cmd.Context(), a.client, p, in, storage.UploadOptions{
				PartSize:    int64(size),
				Concurrency: concurrency,
			})
			if err != nil {
				return err
			}

			a.logger.Info("Uploaded object",
				"key", p.String(),
				"size", humanize.IBytes(uint64(n)),
				"duration", time.Since(start).Round(time.Millisecond),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&partSize, "part-size", humanize.IBytes(storage.DefaultPartSize), "size of each part, at least 5 MiB")
	cmd.Flags().IntVar(&concurrency, "concurrency", storage.DefaultConcurrency, "parts uploaded at the same time")
	return cmd
}

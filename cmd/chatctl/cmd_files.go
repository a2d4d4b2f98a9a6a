package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	downloadCmd.Flags().StringP("output", "o", "", "output file (default: the media id)")
	rootCmd.AddCommand(uploadCmd, downloadCmd, filesCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a photo or video and print its media id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		id, err := c.Upload(ctx, filepath.Base(args[0]), f)
		if err != nil {
			return handleUnauthorized(err)
		}
		if jsonFlag {
			outputJSON(map[string]string{"file_id": id})
			return nil
		}
		fmt.Println(id)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <media-id>",
	Short: "Download a media file by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		data, contentType, err := c.Download(ctx, args[0])
		if err != nil {
			return handleUnauthorized(err)
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = filepath.Base(args[0])
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return err
		}
		fmt.Printf("%s: %d bytes (%s)\n", out, len(data), contentType)
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List your uploaded files, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		files, err := c.ListFiles(ctx)
		if err != nil {
			return handleUnauthorized(err)
		}

		if jsonFlag {
			outputJSON(files)
			return nil
		}
		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUPDATED")
		for _, f := range files {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

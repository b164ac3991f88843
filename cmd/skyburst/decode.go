package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"skyburst/internal/telemetry"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode FILE...",
		Short: "Decode capture files into readable records",
		Long: `Decodes files holding raw link bytes (.bin, or .bin.gz as written by the
capture rotator) and prints every burst with its records.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := decodeFile(cmd.OutOrStdout(), path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func decodeFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	fmt.Fprintf(w, "== %s\n", path)
	if err := decodeStream(w, r); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// decodeStream prints each burst as it completes.
func decodeStream(w io.Writer, r io.Reader) error {
	dec := telemetry.NewDecoder(nil)
	buf := make([]byte, 4096)
	count := 0

	for {
		n, err := r.Read(buf)
		for _, burst := range dec.Feed(buf[:n]) {
			count++
			fmt.Fprintf(w, "burst %d: %d records\n", count, len(burst.Records))
			for _, rec := range burst.Records {
				fmt.Fprintf(w, "  %s\n", rec.Values())
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	if records, partial := dec.Pending(); records > 0 || partial > 0 {
		fmt.Fprintf(w, "incomplete burst: %d records, %d trailing bytes\n", records, partial)
	}
	if resyncs := dec.Resyncs(); resyncs > 0 {
		fmt.Fprintf(w, "framing lost %d times\n", resyncs)
	}
	return nil
}

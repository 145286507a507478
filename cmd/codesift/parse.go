package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/codesift/codesift/transcript"
)

var parseJSON bool

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a transcript into prose and directive segments",
	Long: `Parse a transcript file (or stdin when no file is given) into its
prose and file-directive segments. Runs locally, no server needed.

Example:
  codesift parse reply.txt
  cat reply.txt | codesift parse --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "Output segments as JSON")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}

	segments := transcript.Parse(string(data))

	if parseJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(segments)
	}

	for i, seg := range segments {
		switch seg.Kind {
		case transcript.KindProse:
			fmt.Printf("--- segment %d: prose (%d bytes)\n", i+1, len(seg.Text))
		case transcript.KindNewFile:
			fmt.Printf("--- segment %d: new file %s (%d bytes)\n", i+1, seg.FilePath, len(seg.Content))
		case transcript.KindRewriteFile:
			fmt.Printf("--- segment %d: rewrite %s (%d bytes)\n", i+1, seg.FilePath, len(seg.Content))
		case transcript.KindEdit:
			fmt.Printf("--- segment %d: edit %s (search %d bytes, replace %d bytes)\n",
				i+1, seg.FilePath, len(seg.Search), len(seg.Replace))
		case transcript.KindIncomplete:
			fmt.Printf("--- segment %d: incomplete %s directive for %s\n", i+1, seg.Partial, seg.FilePath)
		}
	}
	fmt.Printf("%d segment(s)\n", len(segments))
	return nil
}

package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/harun/runcore/pkg/protocol"
	"github.com/spf13/cobra"
)

const maxLineSize = 4 << 20

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Check JSONL runtime messages",
	Long: `Validate runtime messages, one JSON document per line, from the given
files or from stdin. Every invalid line is reported with its line number.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var total, invalid int

	check := func(name string, r io.Reader) error {
		n, bad, err := validateStream(out, name, r)
		total += n
		invalid += bad
		return err
	}

	if len(args) == 0 {
		if err := check("stdin", cmd.InOrStdin()); err != nil {
			return err
		}
	}
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		err = check(path, f)
		f.Close()
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%d messages, %d invalid\n", total, invalid)
	if invalid > 0 {
		return fmt.Errorf("%d invalid messages", invalid)
	}
	return nil
}

// validateStream decodes every non-blank line of r and reports the ones that
// fail. It returns the number of messages seen and how many were invalid.
func validateStream(w io.Writer, name string, r io.Reader) (int, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var total, invalid, line int
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		total++
		msg, err := protocol.Decode(data)
		if err == nil {
			err = checkPhase(msg)
		}
		if err != nil {
			invalid++
			fmt.Fprintf(w, "%s:%d: %v\n", name, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return total, invalid, fmt.Errorf("read %s: %w", name, err)
	}
	return total, invalid, nil
}

// checkPhase rejects run_status messages carrying a phase the runtime never
// emits.
func checkPhase(msg protocol.Message) error {
	status, ok := msg.(protocol.RunStatus)
	if !ok || status.Phase.Valid() {
		return nil
	}
	return fmt.Errorf("%w: unknown phase %q", protocol.ErrInvalidMessage, status.Phase)
}

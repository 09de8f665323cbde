package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"drivemirror/internal/mirror"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02 15:04:05"

var stdin = bufio.NewReader(os.Stdin)

// printOutput writes v in the format chosen by --output, calling text for
// the human-readable form.
func printOutput(cmd *cobra.Command, v any, text func()) error {
	format, _ := cmd.Flags().GetString("output")
	return render(os.Stdout, format, v, text)
}

func render(w io.Writer, format string, v any, text func()) error {
	switch format {
	case "", "text":
		text()
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printFile(f *mirror.File, depth int) {
	indent := strings.Repeat("  ", depth)
	owner := "-"
	if u, ok := f.Owner(); ok {
		owner = u.EmailAddress
	}
	fmt.Printf("%s%s  %s  owner:%s  children:%d\n", indent, f.ID, f.Name, owner, len(f.Children))
	for _, p := range f.Permissions {
		printPermission(p, depth+1)
	}
}

func printPermission(p mirror.Permission, depth int) {
	fmt.Printf("%s%-24s %-8s %-13s %s\n", strings.Repeat("  ", depth), p.ID, p.Type, p.Role, p.Grantee())
}

func printTree(nodes []*mirror.TreeNode, depth int) {
	for _, n := range nodes {
		fmt.Printf("%s%s  %s\n", strings.Repeat("  ", depth), n.File.ID, n.File.Name)
		printTree(n.Children, depth+1)
	}
}

func printBulk(res *mirror.BulkResult) {
	for _, o := range res.Outcomes {
		fmt.Printf("%-17s %-6s %s %s\n", o.Status, o.Action, o.FileID, outcomeTarget(o))
	}
	fmt.Printf("%d file(s): %d applied, %d already satisfied, %d owner skipped\n",
		len(res.Files),
		res.Count(mirror.OutcomeApplied),
		res.Count(mirror.OutcomeAlreadySatisfied),
		res.Count(mirror.OutcomeSkippedOwner),
	)
}

// readPassphrase prompts on stderr and reads without echo from a terminal,
// or reads one line when stdin is piped.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

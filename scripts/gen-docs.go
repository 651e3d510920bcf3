//go:build ignore
// +build ignore

package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cpuguy83/go-md2man/md2man"
	"github.com/russross/blackfriday"
	"github.com/spf13/cobra"

	"github.com/andersenlabs/brtrace/cmd/brtrace/cmds"
)

// gen-docs.go replaces the teacher's gen-cli-docs.go/gen-usage-docs.go
// pair: it walks the cobra command tree once and renders each command to
// both a man page (go-md2man) and an HTML page (blackfriday), instead of
// delegating to cobra/doc.
func main() {
	root := cmds.New()

	manDir := "./Documentation/man"
	htmlDir := "./Documentation/html"
	for _, dir := range []string{manDir, htmlDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("gen-docs: mkdir %s: %v", dir, err)
		}
	}

	walk(root, manDir, htmlDir)
}

func walk(cmd *cobra.Command, manDir, htmlDir string) {
	if !cmd.IsAvailableCommand() {
		return
	}

	md := renderMarkdown(cmd)

	name := commandFileName(cmd)

	man := md2man.Render([]byte(md))
	manPath := filepath.Join(manDir, name+".1")
	if err := os.WriteFile(manPath, man, 0o644); err != nil {
		log.Fatalf("gen-docs: write %s: %v", manPath, err)
	}

	html := blackfriday.MarkdownCommon([]byte(md))
	htmlPath := filepath.Join(htmlDir, name+".html")
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		log.Fatalf("gen-docs: write %s: %v", htmlPath, err)
	}

	for _, child := range cmd.Commands() {
		walk(child, manDir, htmlDir)
	}
}

func renderMarkdown(cmd *cobra.Command) string {
	var b bytes.Buffer

	fmt.Fprintf(&b, "# %s\n\n", cmd.CommandPath())
	fmt.Fprintf(&b, "%s\n\n", cmd.Short)
	if cmd.Long != "" {
		fmt.Fprintf(&b, "%s\n\n", cmd.Long)
	}

	fmt.Fprintf(&b, "## Usage\n\n```\n%s\n```\n\n", cmd.UseLine())

	if cmd.HasAvailableFlags() {
		fmt.Fprintf(&b, "## Flags\n\n```\n%s```\n\n", cmd.Flags().FlagUsages())
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(&b, "## Subcommands\n\n")
		for _, child := range cmd.Commands() {
			if !child.IsAvailableCommand() {
				continue
			}
			fmt.Fprintf(&b, "- `%s` - %s\n", child.Name(), child.Short)
		}
	}

	return b.String()
}

func commandFileName(cmd *cobra.Command) string {
	return strings.ReplaceAll(cmd.CommandPath(), " ", "-")
}

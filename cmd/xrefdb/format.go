package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jward/xrefdb"
)

// outputResult writes a CLIResult to w in the selected format.
func outputResult(w io.Writer, result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to w as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(w io.Writer, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

func formatTopicsText(w io.Writer, topics []CLITopic) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSYMBOL\tACCESS\tLINE")
	for _, t := range topics {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", t.ID, t.Type, t.Symbol, t.Access, t.CodeLine)
	}
	tw.Flush()
}

func formatLinksText(w io.Writer, links []CLILink) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTEXT\tSTATUS\tTARGET")
	for _, l := range links {
		target := "-"
		if l.TargetID > 0 {
			target = fmt.Sprintf("%s (#%d)", l.Target, l.TargetID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", l.ID, l.Type, l.Text, l.Status, target)
	}
	tw.Flush()
}

func formatFilesText(w io.Writer, files []CLIFile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tLANGUAGE")
	for _, f := range files {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.ID, f.Path, f.Language)
	}
	tw.Flush()
}

func formatStatsText(w io.Writer, s *xrefdb.Stats) {
	fmt.Fprintf(w, "Files:       %d (images %d)\n", s.Files, s.ImageFiles)
	fmt.Fprintf(w, "Topics:      %d\n", s.Topics)
	fmt.Fprintf(w, "Links:       %d (resolved %d, no target %d, unresolved %d)\n",
		s.Links, s.Resolved, s.NoTarget, s.Unresolved)
	fmt.Fprintf(w, "Image links: %d (resolved %d)\n", s.ImageLinks, s.ImageLinksResolved)
	fmt.Fprintf(w, "Classes:     %d\n", s.Classes)
	fmt.Fprintf(w, "Contexts:    %d\n", s.Contexts)
	fmt.Fprintf(w, "Pending:     %d\n", s.Pending)
}

func formatIngestText(w io.Writer, s CLIIngestSummary) {
	fmt.Fprintf(w, "Ingested %d, images %d, unchanged %d, skipped %d, failed %d\n",
		s.Ingested, s.Images, s.Unchanged, s.Skipped, s.Failed)
	if s.Stats != nil {
		fmt.Fprintln(w)
		formatStatsText(w, s.Stats)
	}
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLITopic:
		formatTopicsText(w, v)
	case []CLILink:
		formatLinksText(w, v)
	case []CLIFile:
		formatFilesText(w, v)
	case *xrefdb.Stats:
		formatStatsText(w, v)
	case CLIIngestSummary:
		formatIngestText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

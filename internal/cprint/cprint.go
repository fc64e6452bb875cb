// Package cprint prints sync-run console output color-coded by
// model.ChangeType (green=new listing, red=removed/sold, yellow=changed),
// mirroring the teacher's pkg/cprint create/update/delete convention for
// Kong plan diffs. Color is suppressed automatically when stdout isn't a
// terminal (golang.org/x/term), so piping `sync events` into a file or
// another program never embeds escape codes, and globally via
// DisableOutput for tests.
package cprint

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	mu sync.Mutex
	// DisableOutput silences every Print* call.
	DisableOutput bool
)

func init() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

// guarded runs fn while holding mu, unless DisableOutput is set. Every
// exported Print function below is a closure over this single guard rather
// than a bespoke conditional wrapper per call shape.
func guarded(fn func()) {
	if DisableOutput {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// printfFunc returns a guarded fmt.Printf-shaped function in c's color.
func printfFunc(c *color.Color) func(string, ...interface{}) {
	return func(format string, a ...interface{}) {
		guarded(func() { c.Printf(format, a...) })
	}
}

// printlnFunc returns a guarded fmt.Println-shaped function in c's color.
func printlnFunc(c *color.Color) func(...interface{}) {
	return func(a ...interface{}) {
		guarded(func() { c.Println(a...) })
	}
}

// fprintlnFunc returns a guarded fmt.Fprintln-shaped function in c's color,
// writing to w instead of stdout (used for the stderr error line).
func fprintlnFunc(c *color.Color, w io.Writer) func(...interface{}) {
	return func(a ...interface{}) {
		guarded(func() { c.Fprintln(w, a...) })
	}
}

var (
	newListingColor = color.New(color.FgGreen)
	removedColor    = color.New(color.FgRed)
	changedColor    = color.New(color.FgYellow)
	headerColor     = color.New(color.FgCyan, color.Bold)
	errorColor      = color.New(color.FgRed)

	// NewListingPrintf is fmt.Printf in green, for new_listing rows.
	NewListingPrintf = printfFunc(newListingColor)
	// RemovedPrintf is fmt.Printf in red, for removed_listing/sold rows.
	RemovedPrintf = printfFunc(removedColor)
	// ChangedPrintf is fmt.Printf in yellow, for price/quantity change rows.
	ChangedPrintf = printfFunc(changedColor)

	// NewListingPrintln is fmt.Println in green.
	NewListingPrintln = printlnFunc(newListingColor)
	// RemovedPrintln is fmt.Println in red.
	RemovedPrintln = printlnFunc(removedColor)
	// ChangedPrintln is fmt.Println in yellow.
	ChangedPrintln = printlnFunc(changedColor)
	// HeaderPrintln is fmt.Println in bold cyan, for section banners.
	HeaderPrintln = printlnFunc(headerColor)

	// ErrorPrintlnStdErr is fmt.Println in red, written to stderr.
	ErrorPrintlnStdErr = fprintlnFunc(errorColor, os.Stderr)
)

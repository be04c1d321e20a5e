package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nicrolabs-studio/internal/app"
	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/config"
	"nicrolabs-studio/internal/studio"
)

// studioFlags describes one studio session on the command line.
type studioFlags struct {
	images      []string
	style       string
	values      [catalog.NumCategories]string
	format      string
	highFid     bool
	identity    bool
	instruction string
	template    int
	catalogPath string
}

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "studio",
		Short:         "Nicrolabs AI product photo studio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("catalog", "", "Catalog YAML (default: built-in)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr")

	root.AddCommand(
		newCatalogCommand(),
		newPromptCommand(),
		newGenerateCommand(),
		newSuggestCommand(),
	)
	return root
}

func registerStudioFlags(cmd *cobra.Command, f *studioFlags) {
	cmd.Flags().StringSliceVarP(&f.images, "image", "i", nil, "Product photo (repeat up to 3 times)")
	cmd.Flags().StringVar(&f.style, "style", "", "Style reference photo")
	for _, cat := range catalog.Categories() {
		cmd.Flags().StringVar(&f.values[cat], cat.String(), "", cat.String()+" option id")
	}
	cmd.Flags().StringVarP(&f.format, "format", "f", catalog.DefaultFormatID, "Output format id")
	cmd.Flags().BoolVar(&f.highFid, "hf", false, "High fidelity (4K) render")
	cmd.Flags().BoolVar(&f.identity, "identity", false, "Identity transfer mode")
	cmd.Flags().StringVarP(&f.instruction, "scene", "s", "", "Scene instruction")
	cmd.Flags().IntVarP(&f.template, "template", "t", 0, "Use scene template N of the selected business (1-based)")
}

func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, _ := cmd.Flags().GetString("catalog")
	if strings.TrimSpace(path) == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openApp wires the shared services from the environment. Status messages are
// written to stderr.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if path, _ := cmd.Flags().GetString("catalog"); strings.TrimSpace(path) != "" {
		cfg.CatalogPath = path
	}

	stderr := cmd.ErrOrStderr()
	return app.New(cmd.Context(), app.Options{
		Config:      cfg,
		Logger:      newLogger(cmd),
		ServiceName: "nicrolabs-studio-cli",
		OnStatus: func(_, msg string) {
			fmt.Fprintln(stderr, "⏳ "+msg)
		},
	})
}

// fill loads the flag-described images and choices into sess.
func (f *studioFlags) fill(cat *catalog.Catalog, sess *studio.Session) error {
	if len(f.images) > studio.MaxProductImages {
		return fmt.Errorf("at most %d product images, got %d", studio.MaxProductImages, len(f.images))
	}
	for i, path := range f.images {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := sess.SetImage(i+1, filepath.Base(path), "", data); err != nil {
			return err
		}
	}
	if f.style != "" {
		data, err := os.ReadFile(f.style)
		if err != nil {
			return err
		}
		if _, err := sess.SetImage(studio.StyleReferenceSlot, filepath.Base(f.style), "", data); err != nil {
			return err
		}
	}

	for _, c := range catalog.Categories() {
		if id := f.values[c]; id != "" {
			if _, ok := cat.Option(c, id); !ok {
				return fmt.Errorf("unknown %s %q", c, id)
			}
		}
	}
	if _, ok := cat.Format(f.format); !ok {
		return fmt.Errorf("unknown format %q", f.format)
	}

	var applyErr error
	sess.Update(func(sel *studio.Selection) {
		sel.ExitIdentityTransfer()
		for _, c := range catalog.Categories() {
			sel.Set(c, f.values[c])
		}
		sel.SelectFormat(f.format)
		sel.SetHighFidelity(f.highFid)
		sel.SetInstruction(strings.TrimSpace(f.instruction))
		if f.template > 0 && !sel.ApplyTemplate(cat, f.template-1) {
			applyErr = fmt.Errorf("business %q has no template %d", sel.Value(catalog.Business), f.template)
		}
		if f.identity {
			instruction := sel.Instruction
			sel.EnterIdentityTransfer()
			sel.SetInstruction(instruction)
		}
	})
	return applyErr
}

// Execute runs the root command until ctx is done.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"nicrolabs-studio/internal/catalog"
	"nicrolabs-studio/internal/export"
	"nicrolabs-studio/internal/generate"
	"nicrolabs-studio/internal/prompt"
	"nicrolabs-studio/internal/studio"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [business|vibe|lighting|camera|angle|format|templates]",
		Short: "List style options",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			opts := cat.List()
			out := cmd.OutOrStdout()

			which := ""
			if len(args) == 1 {
				which = strings.ToLower(args[0])
			}

			switch which {
			case "format":
				table := newTable(out, []string{"ID", "LABEL", "ASPECT"})
				for _, f := range opts.Format {
					table.Append([]string{f.ID, f.Label, string(f.AspectRatio)})
				}
				table.Render()
				return nil
			case "templates":
				table := newTable(out, []string{"BUSINESS", "#", "TEMPLATE"})
				for _, b := range opts.Business {
					for i, t := range cat.Templates(b.ID) {
						table.Append([]string{b.ID, strconv.Itoa(i + 1), t})
					}
				}
				table.Render()
				return nil
			}

			categories := catalog.Categories()
			if which != "" {
				c, ok := catalog.ParseCategory(which)
				if !ok {
					return fmt.Errorf("unknown category %q", which)
				}
				categories = []catalog.Category{c}
			}

			table := newTable(out, []string{"CATEGORY", "ID", "LABEL", "DESCRIPTION"})
			for _, c := range categories {
				for _, o := range opts.ByCategory(c) {
					table.Append([]string{c.String(), o.ID, o.Label, o.Description})
				}
			}
			table.Render()
			return nil
		},
	}
}

func newPromptCommand() *cobra.Command {
	var f studioFlags
	var tier string

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt a generation would send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			policy, err := generate.PolicyFor(tier)
			if err != nil {
				return err
			}

			sess := studio.NewSession("cli", false, nil, 1)
			if err := f.fill(cat, sess); err != nil {
				return err
			}
			snap := sess.Snapshot()
			aspect := cat.AspectRatio(snap.Selection.FormatID)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tier: %s\naspect: %s\n\n", policy(aspect, snap.Selection.HighFidelity), aspect)
			fmt.Fprintln(out, prompt.New(cat).Compose(prompt.FromSnapshot(snap)))
			if err := generate.Validate(snap); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: a product image and a scene are needed to generate")
			}
			return nil
		},
	}
	registerStudioFlags(cmd, &f)
	cmd.Flags().StringVar(&tier, "tier", "auto", "Tier policy: auto, fast or pro")
	return cmd
}

func newGenerateCommand() *cobra.Command {
	var f studioFlags
	var outDir string
	var guest bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render one image and export it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer core.Close(cmd.Context())

			sess := core.Store.Create(guest)
			defer core.Store.Delete(sess.ID)
			if err := f.fill(core.Catalog, sess); err != nil {
				return err
			}

			img, err := core.Generator.Generate(cmd.Context(), sess)
			if errors.Is(err, generate.ErrInputRequired) {
				return errors.New("need at least one --image and a --scene (or --template)")
			}
			if err != nil {
				return err
			}

			var exporter export.Exporter = core.Exporter
			if outDir != "" {
				exporter = export.Dir{Root: outDir}
			}
			location, err := export.Image(cmd.Context(), exporter, core.Config.ExportPrefix, img)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), location)
			return nil
		},
	}
	registerStudioFlags(cmd, &f)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write the result into this directory (default: configured exporter)")
	cmd.Flags().BoolVar(&guest, "guest", false, "Render as a guest (watermarked)")
	return cmd
}

func newSuggestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <business description>",
		Short: "Ask the model to pick styles for a business",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer core.Close(cmd.Context())

			sess := core.Store.Create(false)
			defer core.Store.Delete(sess.ID)

			res := core.Suggest.Apply(cmd.Context(), sess, strings.Join(args, " "))
			if !res.Applied {
				return errors.New("no suggestion returned")
			}
			printSuggestion(cmd.OutOrStdout(), res.Values, res.FormatID, res.PromptAddon, res.Rejected)
			return nil
		},
	}
}

func printSuggestion(w io.Writer, values map[string]string, formatID, addon string, rejected []string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := newTable(w, []string{"CATEGORY", "VALUE"})
	for _, k := range keys {
		table.Append([]string{k, values[k]})
	}
	if formatID != "" {
		table.Append([]string{"format", formatID})
	}
	table.Render()

	if addon != "" {
		fmt.Fprintln(w, "\nscene: "+addon)
	}
	if len(rejected) > 0 {
		fmt.Fprintln(w, "\nignored: "+strings.Join(rejected, ", "))
	}
}

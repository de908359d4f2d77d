package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"harborguide/internal/domain"
	"harborguide/internal/render"
	"harborguide/internal/session"
	"harborguide/internal/usecase"
)

func newAskCmd(root *rootFlags) *cobra.Command {
	var width int
	var style string
	var withKPIs bool
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask the insights assistant one question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := usecase.NormalizeQuestion(strings.Join(args, " "))
			if err != nil {
				return err
			}
			a, err := root.build(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sess := session.New(uuid.NewString(), time.Now())
			var prior *domain.KPISet
			if withKPIs || a.Config.IncludeKPIs {
				// Offline defaults are placeholders, not figures the backend should reason about.
				if kpis := a.Resolver.FetchKPIs(cmd.Context(), sess); kpis.IsRemote() {
					prior = &kpis.Value
				}
			}
			return printAnswer(cmd, a.Resolver.AskQuestion(cmd.Context(), sess, q, prior), width, style)
		},
	}
	cmd.Flags().IntVar(&width, "width", 100, "wrap width for the rendered answer")
	cmd.Flags().StringVar(&style, "style", "", "glamour style (dark, light, notty); empty detects the terminal")
	cmd.Flags().BoolVar(&withKPIs, "with-kpis", false, "send the current KPIs along with the question")
	return cmd
}

func printAnswer(cmd *cobra.Command, out usecase.Outcome[string], width int, style string) error {
	text, err := render.TerminalMarkdown(usecase.DisplayAnswer(out), width, style)
	if err != nil {
		text = usecase.DisplayAnswer(out) + "\n"
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

func newKPIsCmd(root *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "kpis",
		Short: "Show the dashboard KPIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.build(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := a.Resolver.FetchKPIs(cmd.Context(), session.New(uuid.NewString(), time.Now()))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.KPIStripTerminal(out.Value, out.Reason))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the KPI outcome as JSON")
	return cmd
}

func newEmbedCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Print the report embed configuration or the reason it is unavailable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.build(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res := a.Resolver.FetchEmbedConfig(cmd.Context(), session.New(uuid.NewString(), time.Now()))
			if !res.OK() {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Diagnostic)
				return err
			}
			js, err := render.EmbedJSON(*res.Config)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(js))
			return err
		},
	}
}

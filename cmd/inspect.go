package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/spigell/autoapply/internal/classify"
	"github.com/spigell/autoapply/internal/dom/htmlpage"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/run"
)

// inspectedField is one line of the inspect output.
type inspectedField struct {
	Key      string   `json:"key"`
	Kind     string   `json:"kind"`
	Label    string   `json:"label,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
	Category string   `json:"category"`
	Value    string   `json:"value,omitempty"`
	Oracle   bool     `json:"oracle,omitempty"`
	Skip     bool     `json:"skip,omitempty"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.html>",
	Short: "Show how the fields of a saved form page would be classified",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scope, _ := cmd.Flags().GetString("scope")
		section, _ := cmd.Flags().GetString("section")
		profileFile, _ := cmd.Flags().GetString("profile")

		var vocab classify.Vocabulary
		if profileFile != "" {
			applicant, err := profile.Load(profileFile)
			if err != nil {
				log.Fatalf("loading the applicant profile: %s", err)
			}
			vocab = (&run.Kit{Profile: applicant}).Vocabulary()
		}

		html, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("reading page: %s", err)
		}

		if err := inspect(cmd.Context(), os.Stdout, string(html), scope, section, vocab); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().String("scope", "form", "selector of the container holding the fields")
	inspectCmd.Flags().String("section", "", "section title the fields are classified under")
	inspectCmd.Flags().String("profile", "", "applicant profile used to resolve values")
}

func inspect(ctx context.Context, w io.Writer, html, scope, section string, vocab classify.Vocabulary) error {
	if ctx == nil {
		ctx = context.Background()
	}

	page, err := htmlpage.New(html)
	if err != nil {
		return fmt.Errorf("parsing page: %w", err)
	}

	fields, err := pagemodel.New(page, nil).Extract(ctx, scope)
	if err != nil {
		return fmt.Errorf("extracting fields: %w", err)
	}

	classifier := classify.New(vocab)
	out := make([]inspectedField, 0, len(fields))
	for _, f := range fields.Ordered() {
		res := classifier.Classify(f, section)
		out = append(out, inspectedField{
			Key:      f.ID,
			Kind:     string(f.Kind),
			Label:    f.Label,
			Required: f.Required,
			Options:  f.OptionLabels(),
			Category: res.Category.String(),
			Value:    res.Value,
			Oracle:   res.NeedsOracle(),
			Skip:     res.Skip,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

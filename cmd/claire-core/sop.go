package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pathwaybio/claire-core/internal/model"
)

var sopCmd = &cobra.Command{
	Use:   "sop",
	Short: "SOP document tooling",
}

var sopValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a SOP YAML document for structural errors before publishing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		var doc model.SOP
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}

		problems := lintSOP(doc)
		if len(problems) == 0 {
			fmt.Printf("%s: OK (%s v%s, %d fields)\n", args[0], doc.SOPID, doc.Version, len(doc.Fields()))
			return nil
		}

		for _, p := range problems {
			fmt.Printf("%s: %s\n", args[0], p)
		}
		return fmt.Errorf("%d problems found in %s", len(problems), args[0])
	},
}

func init() {
	sopCmd.AddCommand(sopValidateCmd)
}

// lintSOP checks structural invariants the registry assumes but never
// itself verifies: unique field paths, filename components that
// reference real fields, and a non-empty identity.
func lintSOP(doc model.SOP) []string {
	var problems []string

	if doc.SOPID == "" {
		problems = append(problems, "sop_id is required")
	}
	if doc.Version == "" {
		problems = append(problems, "version is required")
	}

	seen := make(map[string]bool)
	for _, f := range doc.Fields() {
		if f.Path == "" {
			problems = append(problems, "a field is missing its path")
			continue
		}
		if seen[f.Path] {
			problems = append(problems, fmt.Sprintf("duplicate field path %q", f.Path))
		}
		seen[f.Path] = true

		if f.Type == model.FieldTypeEnum && len(f.Enum) == 0 {
			problems = append(problems, fmt.Sprintf("field %q is type enum but declares no enum values", f.Path))
		}
	}

	for _, fc := range doc.FilenameComponents {
		if !seen[fc.Field] {
			problems = append(problems, fmt.Sprintf("filename component references unknown field %q", fc.Field))
		}
	}

	return problems
}

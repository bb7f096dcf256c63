package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vk/hyperstate/pkg/node"
	"github.com/vk/hyperstate/pkg/schema"
)

func newFieldsCmd(app App) *cobra.Command {
	return &cobra.Command{
		Use:   "fields [query]",
		Short: "Print the config schema, or search its fields by name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schema.Materialize(app.Config)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(args) == 0 || args[0] == "" {
				schema.WriteSchema(w, desc)
				return nil
			}

			query := args[0]
			matches := schema.FindFields(desc, query)
			best := 0.0
			if len(matches) > 0 {
				best = matches[0].Similarity
			}
			shown := 0
			last := -1.0
			for i, m := range matches {
				// Stop once similarity stops improving and the remaining
				// candidates are clearly worse than the best hit.
				if m.Similarity <= last && !strings.Contains(m.Field.Name, query) && m.Similarity < 1.0 &&
					(i > 3 || m.Similarity < 0.4 || best >= 1.0 || best-m.Similarity > 0.2) {
					break
				}
				line := fmt.Sprintf("%s: %s", m.Path, m.Field.Type)
				if m.Field.HasDefault && m.Field.Default != nil && m.Field.Default.Kind() != node.KindAbsent {
					line += " = " + m.Field.Default.String()
				}
				fmt.Fprintln(w, line)
				shown++
				last = m.Similarity
			}
			if shown == 0 {
				fmt.Fprintf(w, "no fields matching %q\n", query)
			}
			return nil
		},
	}
}

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/spf13/cobra"
)

func newCheckConfigCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the settings file without connecting to anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, w := range st.cfg.Warnings() {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			if err := st.cfg.Validate(); err != nil {
				for _, line := range strings.Split(err.Error(), "\n") {
					_, _ = fmt.Fprintf(out, "  - %s\n", line)
				}
				return errors.New("settings file is invalid")
			}
			_, _ = fmt.Fprintf(out, "%s is valid\n", st.cfg.Path)
			return nil
		},
	}
}

func newCatalogCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [layer...]",
		Short: "List the extractable layers by utility, or describe the named layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := st.cfg.Catalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				for _, name := range args {
					l, ok := catalog.Lookup(name)
					if !ok {
						return fmt.Errorf("layer %q is not in the catalog", name)
					}
					cats := make([]string, len(l.Categories))
					for i, c := range l.Categories {
						cats[i] = string(c)
					}
					_, _ = fmt.Fprintf(out, "%s\n  path: %s\n  categories: %s\n  fields: %s\n",
						l.Name, l.Path, strings.Join(cats, ", "), strings.Join(l.Fields, ", "))
				}
				return nil
			}
			for _, u := range models.Categories {
				_, _ = fmt.Fprintf(out, "%s:\n", u)
				for _, l := range catalog.InCategory(u) {
					_, _ = fmt.Fprintf(out, "  %-24s %s [%s]\n", l.Name, l.Path, strings.Join(l.Fields, ", "))
				}
			}
			return nil
		},
	}
}
